package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultWebhookPath         = "/webhooks/resend"
	DefaultMaxRetries          = 3
	DefaultBatchSize           = 100
	DefaultWebhookTimeout      = 30
	DefaultReplayWindow        = 300
	DefaultMaxBodyBytes        = 1 << 20
	DefaultStaleAfter          = 900
	DefaultScheduleInterval    = 60
	DefaultRetryInterval       = 300
	DefaultDatabaseDriver      = "sqlite3"
	DefaultDatabasePingTimeout = 5
	DefaultHTTPAddress         = ":8080"
)

type WebhookConfig struct {
	Path string `koanf:"path" mapstructure:"path"`
	// Secret is the provider signing secret. Signatures are only verified
	// when it is set.
	Secret              string `koanf:"secret" mapstructure:"secret"`
	TimeoutSeconds      int    `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
	ReplayWindowSeconds int    `koanf:"replay_window_seconds" mapstructure:"replay_window_seconds"`
	MaxBodyBytes        int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type ProcessingConfig struct {
	BatchSize               int `koanf:"batch_size" mapstructure:"batch_size"`
	MaxRetries              int `koanf:"max_retries" mapstructure:"max_retries"`
	HandlerTimeoutSeconds   int `koanf:"handler_timeout_seconds" mapstructure:"handler_timeout_seconds"`
	StaleAfterSeconds       int `koanf:"stale_after_seconds" mapstructure:"stale_after_seconds"`
	ScheduleIntervalSeconds int `koanf:"schedule_interval_seconds" mapstructure:"schedule_interval_seconds"`
	RetryIntervalSeconds    int `koanf:"retry_interval_seconds" mapstructure:"retry_interval_seconds"`
}

type DatabaseConfig struct {
	Driver             string `koanf:"driver" mapstructure:"driver"`
	DSN                string `koanf:"dsn" mapstructure:"dsn"`
	Debug              bool   `koanf:"debug" mapstructure:"debug"`
	PingTimeoutSeconds int    `koanf:"ping_timeout_seconds" mapstructure:"ping_timeout_seconds"`
}

type HTTPConfig struct {
	Address      string `koanf:"address" mapstructure:"address"`
	AdminEnabled bool   `koanf:"admin_enabled" mapstructure:"admin_enabled"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Webhook     WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
	Processing  ProcessingConfig `koanf:"processing" mapstructure:"processing"`
	Database    DatabaseConfig   `koanf:"database" mapstructure:"database"`
	HTTP        HTTPConfig       `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "mailevents",
		Webhook: WebhookConfig{
			Path:                DefaultWebhookPath,
			TimeoutSeconds:      DefaultWebhookTimeout,
			ReplayWindowSeconds: DefaultReplayWindow,
			MaxBodyBytes:        DefaultMaxBodyBytes,
		},
		Processing: ProcessingConfig{
			BatchSize:               DefaultBatchSize,
			MaxRetries:              DefaultMaxRetries,
			StaleAfterSeconds:       DefaultStaleAfter,
			ScheduleIntervalSeconds: DefaultScheduleInterval,
			RetryIntervalSeconds:    DefaultRetryInterval,
		},
		Database: DatabaseConfig{
			Driver:             DefaultDatabaseDriver,
			DSN:                "file:mailevents.db?cache=shared&_foreign_keys=on",
			PingTimeoutSeconds: DefaultDatabasePingTimeout,
		},
		HTTP: HTTPConfig{
			Address: DefaultHTTPAddress,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if !strings.HasPrefix(strings.TrimSpace(c.Webhook.Path), "/") {
		return fmt.Errorf("core: webhook.path must start with /")
	}
	if c.Processing.MaxRetries < 0 {
		return fmt.Errorf("core: processing.max_retries must not be negative")
	}
	if c.Processing.BatchSize < 0 {
		return fmt.Errorf("core: processing.batch_size must not be negative")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

func (c Config) WebhookTimeout() time.Duration {
	return seconds(c.Webhook.TimeoutSeconds)
}

func (c Config) ReplayWindow() time.Duration {
	return seconds(c.Webhook.ReplayWindowSeconds)
}

// HandlerTimeout falls back to the webhook timeout when no dedicated handler
// timeout is configured.
func (c Config) HandlerTimeout() time.Duration {
	if c.Processing.HandlerTimeoutSeconds > 0 {
		return seconds(c.Processing.HandlerTimeoutSeconds)
	}
	return c.WebhookTimeout()
}

func (c Config) StaleAfter() time.Duration {
	return seconds(c.Processing.StaleAfterSeconds)
}

func (c Config) ScheduleInterval() time.Duration {
	return seconds(c.Processing.ScheduleIntervalSeconds)
}

func (c Config) RetryInterval() time.Duration {
	return seconds(c.Processing.RetryIntervalSeconds)
}

func (c Config) PingTimeout() time.Duration {
	return seconds(c.Database.PingTimeoutSeconds)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
