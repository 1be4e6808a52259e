// Package bot assembles the report engine, its Google backends, and the
// Telegram transport into a runnable application.
package bot

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/fieldops/reportbot/core/buildinfo"
	coreconfig "github.com/fieldops/reportbot/core/config"
	"github.com/fieldops/reportbot/core/logger"
	coretelegram "github.com/fieldops/reportbot/core/telegram"
	tgmiddleware "github.com/fieldops/reportbot/core/telegram/middleware"
	"github.com/fieldops/reportbot/engine"
	"github.com/fieldops/reportbot/registry"
	"github.com/fieldops/reportbot/report"
	"github.com/fieldops/reportbot/session"
)

// Backends carries the remote services the engine depends on.
type Backends struct {
	Storage engine.Storage
	Table   engine.Table
}

// App owns the assembled application state.
type App struct {
	cfg *coreconfig.Config
	eng *engine.Engine
	reg *registry.Registry

	out     *outbound
	files   *fileFetcher
	started time.Time
}

// New builds the session store, timers, and engine on top of the provided
// backends.
func New(cfg *coreconfig.Config, backends Backends, reg *registry.Registry) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bot: nil config")
	}
	if backends.Storage == nil || backends.Table == nil {
		return nil, fmt.Errorf("bot: storage and table backends are required")
	}

	app := &App{
		cfg:   cfg,
		reg:   reg,
		out:   &outbound{},
		files: &fileFetcher{},
	}

	timers := session.NewTimekeeper(cfg.SessionWarning(), cfg.SessionTimeout())
	store := session.NewStore(timers)
	flow := report.FlowFromConfig(cfg.Report)
	app.eng = engine.New(&flow, store, timers, app.out, backends.Storage, backends.Table, app.files,
		cfg.SessionWarning(), cfg.SessionTimeout())

	return app, nil
}

// RunOptions exposes the transport wiring for coretelegram.Run.
func (a *App) RunOptions() coretelegram.RunOptions {
	middlewares := []coretelegram.Middleware{
		{Name: "recover", Use: tgmiddleware.RecoverMiddleware},
		{Name: "logging", Use: tgmiddleware.LoggerMiddleware},
	}
	if a.cfg.RateLimit.IntervalMS > 0 {
		exclude := make(map[string]struct{}, len(a.cfg.RateLimit.ExcludeUpdates))
		for _, kind := range a.cfg.RateLimit.ExcludeUpdates {
			exclude[kind] = struct{}{}
		}
		middlewares = append(middlewares, coretelegram.Middleware{
			Name: "rate_limit",
			Use: tgmiddleware.RateLimitMiddleware(tgmiddleware.RateLimitOptions{
				Interval: time.Duration(a.cfg.RateLimit.IntervalMS) * time.Millisecond,
				Exclude:  exclude,
			}),
		})
	}

	return coretelegram.RunOptions{
		Config:      a.cfg,
		Middlewares: middlewares,
		Routes: []coretelegram.Route{
			{Endpoint: "/start", Handler: a.handleStart},
			{Endpoint: "/batal", Handler: a.handleCancel},
			{Endpoint: "/status", Handler: a.handleStatus},
			{Endpoint: tele.OnText, Handler: a.handleText},
			{Endpoint: tele.OnPhoto, Handler: a.handlePhoto},
			{Endpoint: tele.OnLocation, Handler: a.handleLocation},
			{Endpoint: "\fphoto", Handler: a.handleCallback},
			{Endpoint: "\fdelphoto", Handler: a.handleCallback},
			{Endpoint: tele.OnCallback, Handler: a.handleUnknownCallback},
		},
		Commands: []tele.Command{
			{Text: "start", Description: "Mulai / lanjutkan laporan"},
			{Text: "batal", Description: "Batalkan laporan berjalan"},
			{Text: "status", Description: "Status bot"},
		},
		OnBuilt: func(rt coretelegram.Runtime) error {
			a.out.bind(rt.Bot, rt.Dispatcher)
			a.files.bind(rt.Bot)
			return nil
		},
		OnStart: a.onStart,
		OnStop:  a.onStop,
	}
}

func (a *App) onStart(ctx context.Context, rt coretelegram.Runtime) error {
	a.started = time.Now()
	a.broadcast(rt, "🤖 Bot laporan aktif kembali. Ketik /start untuk membuat laporan.")
	logger.Info(ctx, "app", "broadcast_startup", slog.Int("recipients", a.reg.Len()))
	return nil
}

func (a *App) onStop(ctx context.Context, rt coretelegram.Runtime) error {
	a.broadcast(rt, "🤖 Bot laporan sedang maintenance. Sesi berjalan akan hilang.")
	if err := a.reg.Save(); err != nil {
		logger.Warn(ctx, "app", "registry_save_failed", slog.Any("error", err))
	}
	return nil
}

func (a *App) broadcast(rt coretelegram.Runtime, text string) {
	for _, id := range a.reg.List() {
		recipient := &tele.User{ID: id}
		userID := id
		err := rt.Dispatcher.Enqueue("broadcast", userID, func() error {
			_, err := rt.Bot.Send(recipient, text)
			return err
		})
		if err != nil {
			logger.Warn(context.Background(), "app", "broadcast_enqueue_failed",
				slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}

func (a *App) handleStart(c tele.Context) error {
	ctx := tgmiddleware.ContextFrom(c)
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	if err := a.reg.Add(sender.ID); err != nil {
		logger.Warn(ctx, "app", "registry_add_failed",
			slog.Int64("user_id", sender.ID), slog.Any("error", err))
	}
	return a.eng.Begin(ctx, sender.ID, sender.FirstName)
}

func (a *App) handleCancel(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	return a.eng.Cancel(tgmiddleware.ContextFrom(c), sender.ID)
}

func (a *App) handleStatus(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	admin := a.cfg.Telegram.AdminID
	if admin != 0 && sender.ID != admin {
		return c.Send("Bot aktif ✅")
	}
	live, completed := a.eng.Counts()
	text := fmt.Sprintf(
		"Bot aktif ✅\nVersi: %s\nUptime: %s\nSesi berjalan: %d\nLaporan menunggu kirim: %d\nPengguna terdaftar: %d",
		buildinfo.Version,
		time.Since(a.started).Round(time.Second),
		live, completed, a.reg.Len(),
	)
	return c.Send(text)
}

func (a *App) handleText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	return a.eng.HandleText(tgmiddleware.ContextFrom(c), sender.ID, c.Text())
}

func (a *App) handlePhoto(c tele.Context) error {
	sender := c.Sender()
	msg := c.Message()
	if sender == nil || msg == nil || msg.Photo == nil {
		return nil
	}
	return a.eng.HandlePhoto(tgmiddleware.ContextFrom(c), sender.ID, msg.Photo.FileID)
}

func (a *App) handleLocation(c tele.Context) error {
	sender := c.Sender()
	msg := c.Message()
	if sender == nil || msg == nil || msg.Location == nil {
		return nil
	}
	return a.eng.HandleLocation(tgmiddleware.ContextFrom(c),
		sender.ID, float64(msg.Location.Lat), float64(msg.Location.Lng))
}

func (a *App) handleCallback(c tele.Context) error {
	sender := c.Sender()
	cb := c.Callback()
	if sender == nil || cb == nil {
		return nil
	}
	key, payload := tgmiddleware.ParseCallback(cb)
	// Acknowledge first so the client stops its spinner even when handling
	// takes a remote round trip.
	_ = c.Respond(&tele.CallbackResponse{})
	return a.eng.HandleCallback(tgmiddleware.ContextFrom(c), sender.ID, key, payload)
}

func (a *App) handleUnknownCallback(c tele.Context) error {
	return c.Respond(&tele.CallbackResponse{Text: "Aksi tidak dikenali"})
}
