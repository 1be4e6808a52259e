package main

import (
	"context"
	"fmt"
	"log"

	"github.com/fieldops/reportbot/bot"
	corecmd "github.com/fieldops/reportbot/core/cmd"
	coreconfig "github.com/fieldops/reportbot/core/config"
	"github.com/fieldops/reportbot/gsuite"
	"github.com/fieldops/reportbot/registry"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yml",
		Bootstrap:         bootstrap,
	})
	if err != nil {
		log.Fatalf("reportbot: %v", err)
	}
}

func bootstrap(ctx context.Context, cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
	client, err := gsuite.NewClient(ctx, cfg.Google)
	if err != nil {
		return nil, fmt.Errorf("google client: %w", err)
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("user registry: %w", err)
	}

	app, err := bot.New(cfg, bot.Backends{Storage: client, Table: client}, reg)
	if err != nil {
		return nil, err
	}
	return app, nil
}
