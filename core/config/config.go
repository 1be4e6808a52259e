package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
	File   string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// GoogleConfig carries the Drive/Sheets integration settings.
type GoogleConfig struct {
	// CredentialsFile points at a service account JSON key. When
	// CredentialsJSON is set it takes precedence (production deployments
	// pass the key through the environment).
	CredentialsFile string `yaml:"credentials_file" envconfig:"GOOGLE_CREDENTIALS_FILE"`
	CredentialsJSON string `yaml:"credentials_json" envconfig:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	SpreadsheetID   string `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	ParentFolderID  string `yaml:"parent_folder_id" envconfig:"DRIVE_PARENT_FOLDER_ID"`
}

// SessionConfig controls inactivity handling for report sessions.
type SessionConfig struct {
	WarningMinutes int `yaml:"warning_minutes" envconfig:"SESSION_WARNING_MINUTES"`
	TimeoutMinutes int `yaml:"timeout_minutes" envconfig:"SESSION_TIMEOUT_MINUTES"`
}

// ReportConfig parameterizes the report-authoring flow. Categories, the
// required field list, and photo categories are data here rather than code so
// bot variants differ only in configuration.
type ReportConfig struct {
	Categories      []string        `yaml:"categories"`
	RequiredFields  []string        `yaml:"required_fields"`
	PhotoCategories []PhotoCategory `yaml:"photo_categories"`
	// AutoPrefix is the filename stem used by auto-numbered uploads.
	AutoPrefix string `yaml:"auto_prefix"`
	// AllowEmptyPackage permits packaging a report with zero attachments.
	AllowEmptyPackage bool `yaml:"allow_empty_package" envconfig:"REPORT_ALLOW_EMPTY_PACKAGE"`
}

// PhotoCategory is one selectable attachment category.
type PhotoCategory struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// RegistryConfig locates the broadcast user registry file.
type RegistryConfig struct {
	Path string `yaml:"path" envconfig:"USER_REGISTRY_PATH"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// RateLimitConfig holds settings for per-user rate limiting.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the whole application configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Google    GoogleConfig    `yaml:"google"`
	Session   SessionConfig   `yaml:"session"`
	Report    ReportConfig    `yaml:"report"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required configuration fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if cfg.Google.SpreadsheetID == "" {
		return fmt.Errorf("google.spreadsheet_id is required")
	}
	if cfg.Google.CredentialsFile == "" && cfg.Google.CredentialsJSON == "" {
		return fmt.Errorf("google credentials are required (file or json)")
	}

	if cfg.Session.WarningMinutes <= 0 {
		cfg.Session.WarningMinutes = 15
	}
	if cfg.Session.TimeoutMinutes <= 0 {
		cfg.Session.TimeoutMinutes = 30
	}
	if cfg.Session.TimeoutMinutes <= cfg.Session.WarningMinutes {
		return fmt.Errorf("session.timeout_minutes (%d) must be greater than session.warning_minutes (%d)",
			cfg.Session.TimeoutMinutes, cfg.Session.WarningMinutes)
	}

	if len(cfg.Report.Categories) == 0 {
		cfg.Report.Categories = []string{"Non B2B", "BGES", "Squad"}
	}
	if len(cfg.Report.RequiredFields) == 0 {
		cfg.Report.RequiredFields = []string{
			"Customer Name", "Service No", "Segment",
			"Teknisi 1", "Teknisi 2", "STO", "Valins ID",
		}
	}
	if len(cfg.Report.PhotoCategories) == 0 {
		cfg.Report.PhotoCategories = []PhotoCategory{
			{Key: "odp", Label: "ODP"},
			{Key: "odc", Label: "ODC"},
			{Key: "kabel_dropcore", Label: "Kabel Dropcore"},
			{Key: "speed_test", Label: "Speed Test"},
		}
	}
	for i, pc := range cfg.Report.PhotoCategories {
		if strings.TrimSpace(pc.Key) == "" {
			return fmt.Errorf("report.photo_categories[%d].key must not be empty", i)
		}
		if strings.TrimSpace(pc.Label) == "" {
			cfg.Report.PhotoCategories[i].Label = pc.Key
		}
	}
	if cfg.Report.AutoPrefix == "" {
		cfg.Report.AutoPrefix = "foto"
	}

	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "users.json"
	}

	return nil
}

// SessionWarning returns the configured warning interval.
func (c *Config) SessionWarning() time.Duration {
	return time.Duration(c.Session.WarningMinutes) * time.Minute
}

// SessionTimeout returns the configured expiry interval.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}
