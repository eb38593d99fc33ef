package config

import (
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Config represents the main Stitch configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Collage collection behavior
	Collage CollageConfig `json:"collage" mapstructure:"collage"`

	// Render pipeline
	Render RenderConfig `json:"render" mapstructure:"render"`

	// Browser engine
	Browser BrowserConfig `json:"browser" mapstructure:"browser"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway ops server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Render history ledger
	Ledger LedgerConfig `json:"ledger" mapstructure:"ledger"`

	// Background maintenance
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	DMPolicy  string  `json:"dm_policy" mapstructure:"dm_policy"` // open, allowlist, disabled
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`

	// APIEndpoint overrides the Telegram API URL pattern, for local API
	// gateways and tests. Empty means api.telegram.org.
	APIEndpoint string `json:"api_endpoint,omitempty" mapstructure:"api_endpoint"`
}

// CollageConfig holds the collection state machine settings
type CollageConfig struct {
	CompletionKeyword string `json:"completion_keyword" mapstructure:"completion_keyword"`
	DebounceMS        int    `json:"debounce_ms" mapstructure:"debounce_ms"`
	MinImages         int    `json:"min_images" mapstructure:"min_images"`
}

// RenderConfig holds the render pipeline settings
type RenderConfig struct {
	TimeoutMS      int `json:"timeout_ms" mapstructure:"timeout_ms"`
	MaxAttempts    int `json:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoffMS int `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// BrowserConfig holds the headless browser settings
type BrowserConfig struct {
	Headless            bool   `json:"headless" mapstructure:"headless"`
	NoSandbox           bool   `json:"no_sandbox" mapstructure:"no_sandbox"` // required when running as root in containers
	BrowserPath         string `json:"browser_path" mapstructure:"browser_path"`
	UserDataDir         string `json:"user_data_dir" mapstructure:"user_data_dir"`
	RemoteDebuggingPort int    `json:"remote_debugging_port" mapstructure:"remote_debugging_port"`
	ConnectURL          string `json:"connect_url" mapstructure:"connect_url"` // attach to an existing instance instead of spawning
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds ops server configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LedgerConfig holds render history configuration
type LedgerConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Path          string `json:"path" mapstructure:"path"` // defaults to <data_dir>/stitch.db
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
}

// MaintenanceConfig holds the background sweeper configuration
type MaintenanceConfig struct {
	Schedule string `json:"schedule" mapstructure:"schedule"` // standard 5-field cron expression
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			DMPolicy: "open",
		},
		Collage: CollageConfig{
			CompletionKeyword: "done",
			DebounceMS:        10000,
			MinImages:         2,
		},
		Render: RenderConfig{
			TimeoutMS:      30000,
			MaxAttempts:    3,
			RetryBackoffMS: 1000,
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Enabled:      false,
			Port:         8080,
			Host:         "0.0.0.0",
			SharedSecret: "",
		},
		Ledger: LedgerConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Maintenance: MaintenanceConfig{
			Schedule: "0 3 * * *",
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if c.Telegram.DMPolicy != "" && c.Telegram.DMPolicy != "open" && c.Telegram.DMPolicy != "allowlist" && c.Telegram.DMPolicy != "disabled" {
		return fmt.Errorf("invalid telegram DM policy: %s", c.Telegram.DMPolicy)
	}
	if c.Telegram.DMPolicy == "allowlist" && len(c.Telegram.Allowlist) == 0 {
		return fmt.Errorf("telegram allowlist policy requires at least one user id")
	}

	if err := c.Collage.Validate(); err != nil {
		return err
	}

	if c.Render.TimeoutMS <= 0 {
		return fmt.Errorf("render timeout_ms must be positive")
	}
	if c.Render.MaxAttempts < 1 {
		return fmt.Errorf("render max_attempts must be at least 1")
	}
	if c.Render.RetryBackoffMS < 0 {
		return fmt.Errorf("render retry_backoff_ms must not be negative")
	}

	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Ledger.Enabled && c.Ledger.RetentionDays < 0 {
		return fmt.Errorf("ledger retention_days must not be negative")
	}

	if c.Maintenance.Schedule != "" {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("invalid maintenance schedule %q: %w", c.Maintenance.Schedule, err)
		}
	}

	return nil
}

// Validate checks the collection settings in isolation; the live settings
// watcher reuses it for hot reloads
func (c *CollageConfig) Validate() error {
	if c.CompletionKeyword == "" {
		return fmt.Errorf("collage completion_keyword is required")
	}
	if c.DebounceMS <= 0 {
		return fmt.Errorf("collage debounce_ms must be positive")
	}
	if c.MinImages < 2 {
		return fmt.Errorf("collage min_images must be at least 2")
	}
	return nil
}
