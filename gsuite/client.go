// Package gsuite implements the Drive and Sheets backends behind the engine's
// Storage and Table ports using a Google service account.
package gsuite

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	coreconfig "github.com/fieldops/reportbot/core/config"
)

var scopes = []string{
	drive.DriveScope,
	sheets.SpreadsheetsScope,
}

// Client bundles the authenticated Drive and Sheets services.
type Client struct {
	drive  *drive.Service
	sheets *sheets.Service

	parentFolderID string
	spreadsheetID  string
	sheetRange     string
}

// NewClient authenticates with the configured service account. Inline
// credentials take precedence over the credentials file.
func NewClient(ctx context.Context, cfg coreconfig.GoogleConfig) (*Client, error) {
	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	driveSvc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	sheetsSvc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		drive:          driveSvc,
		sheets:         sheetsSvc,
		parentFolderID: cfg.ParentFolderID,
		spreadsheetID:  cfg.SpreadsheetID,
		sheetRange:     "A:Z",
	}, nil
}

func loadCredentials(ctx context.Context, cfg coreconfig.GoogleConfig) (*google.Credentials, error) {
	data := []byte(cfg.CredentialsJSON)
	if len(data) == 0 {
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		data = raw
	}
	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	return creds, nil
}
