// Package config defines the top-level configuration for the trade journal
// sync service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by JOURNAL_* environment
// variables.
type Config struct {
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
	Postgres  PostgresConfig            `toml:"postgres"`
	Redis     RedisConfig               `toml:"redis"`
	Archive   ArchiveConfig             `toml:"archive"`
	Sync      SyncConfig                `toml:"sync"`
	Server    ServerConfig              `toml:"server"`
	Notify    NotifyConfig              `toml:"notify"`
	Mode      string                    `toml:"mode"`
	LogLevel  string                    `toml:"log_level"`
}

// ExchangeConfig holds one exchange's credentials, active flag, and rate
// limit overrides. Zero rate limits mean the exchange defaults apply.
type ExchangeConfig struct {
	APIKey            string  `toml:"api_key"`
	APISecret         string  `toml:"api_secret"`
	Active            bool    `toml:"active"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
	RequestsPerHour   int     `toml:"requests_per_hour"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// service falls back to process-local caches and sync state is lost on
// restart.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

// ArchiveConfig holds the optional S3-compatible raw snapshot archive.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig tunes the sync windows and the watch-mode cadence.
type SyncConfig struct {
	// OverlapWindow is subtracted from the last sync time on incremental
	// syncs so boundary updates are not missed.
	OverlapWindow duration `toml:"overlap_window"`

	// BootstrapWindow is how far back the first sync of an exchange reaches.
	BootstrapWindow duration `toml:"bootstrap_window"`

	// FullInterval and PartialInterval drive the watch-mode tickers.
	FullInterval    duration `toml:"full_interval"`
	PartialInterval duration `toml:"partial_interval"`

	// StaleThreshold is how old a last sync may be before SyncHealth
	// reports the exchange as stale.
	StaleThreshold duration `toml:"stale_threshold"`
}

// duration wraps time.Duration so TOML strings like "5m" or "1h" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API parameters. APIKey, when set, is required on
// every request via the X-API-Key header.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimitPerMinute caps API requests per client IP. Zero disables the
	// limit.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchanges: map[string]ExchangeConfig{},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradejournal",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: false,
		},
		Sync: SyncConfig{
			OverlapWindow:   duration{time.Hour},
			BootstrapWindow: duration{30 * 24 * time.Hour},
			FullInterval:    duration{time.Hour},
			PartialInterval: duration{10 * time.Minute},
			StaleThreshold:  duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"sync_completed", "sync_failed", "partial_sync_completed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sync":  true,
	"watch": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sync, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchanges
	for name, ex := range c.Exchanges {
		if !ex.Active {
			continue
		}
		if strings.TrimSpace(ex.APIKey) == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: api_key is required when active", name))
		}
		if ex.RequestsPerSecond < 0 || ex.RequestsPerMinute < 0 || ex.RequestsPerHour < 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: rate limits must not be negative", name))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1 when enabled")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty when enabled")
		}
	}

	// Sync
	if c.Sync.OverlapWindow.Duration < 0 {
		errs = append(errs, "sync: overlap_window must not be negative")
	}
	if c.Sync.BootstrapWindow.Duration <= 0 {
		errs = append(errs, "sync: bootstrap_window must be positive")
	}
	if c.Sync.FullInterval.Duration <= 0 {
		errs = append(errs, "sync: full_interval must be positive")
	}
	if c.Sync.PartialInterval.Duration <= 0 {
		errs = append(errs, "sync: partial_interval must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
