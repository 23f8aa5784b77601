package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies JOURNAL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known JOURNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject credentials at deploy time without touching the
// TOML file. Exchange credentials use the pattern
// JOURNAL_EXCHANGE_<NAME>_API_KEY / _API_SECRET.
func applyEnvOverrides(cfg *Config) {
	// Exchanges
	for name, ex := range cfg.Exchanges {
		prefix := "JOURNAL_EXCHANGE_" + strings.ToUpper(name) + "_"
		setStr(&ex.APIKey, prefix+"API_KEY")
		setStr(&ex.APISecret, prefix+"API_SECRET")
		setBool(&ex.Active, prefix+"ACTIVE")
		cfg.Exchanges[name] = ex
	}

	// Postgres
	setStr(&cfg.Postgres.DSN, "JOURNAL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "JOURNAL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "JOURNAL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "JOURNAL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "JOURNAL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "JOURNAL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "JOURNAL_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "JOURNAL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "JOURNAL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "JOURNAL_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "JOURNAL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "JOURNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "JOURNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "JOURNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "JOURNAL_REDIS_POOL_SIZE")

	// Archive
	setBool(&cfg.Archive.Enabled, "JOURNAL_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "JOURNAL_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "JOURNAL_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "JOURNAL_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "JOURNAL_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "JOURNAL_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "JOURNAL_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "JOURNAL_ARCHIVE_FORCE_PATH_STYLE")

	// Sync
	setDuration(&cfg.Sync.OverlapWindow, "JOURNAL_SYNC_OVERLAP_WINDOW")
	setDuration(&cfg.Sync.BootstrapWindow, "JOURNAL_SYNC_BOOTSTRAP_WINDOW")
	setDuration(&cfg.Sync.FullInterval, "JOURNAL_SYNC_FULL_INTERVAL")
	setDuration(&cfg.Sync.PartialInterval, "JOURNAL_SYNC_PARTIAL_INTERVAL")
	setDuration(&cfg.Sync.StaleThreshold, "JOURNAL_SYNC_STALE_THRESHOLD")

	// Server
	setBool(&cfg.Server.Enabled, "JOURNAL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "JOURNAL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "JOURNAL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "JOURNAL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "JOURNAL_SERVER_RATE_LIMIT_PER_MINUTE")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "JOURNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "JOURNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "JOURNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "JOURNAL_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "JOURNAL_MODE")
	setStr(&cfg.LogLevel, "JOURNAL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
