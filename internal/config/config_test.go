package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "watch"
log_level = "debug"

[exchanges.bitunix]
api_key = "key1234567890abc"
api_secret = "secret1234567890"
active = true
requests_per_minute = 30

[postgres]
host = "db.internal"
database = "journal"

[sync]
overlap_window = "30m"
partial_interval = "5m"

[server]
port = 9090
rate_limit_per_minute = 120
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)

	ex := cfg.Exchanges["bitunix"]
	assert.Equal(t, "key1234567890abc", ex.APIKey)
	assert.True(t, ex.Active)
	assert.Equal(t, 30, ex.RequestsPerMinute)

	// File values override defaults; untouched fields keep them.
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.True(t, cfg.Postgres.RunMigrations)

	assert.Equal(t, 30*time.Minute, cfg.Sync.OverlapWindow.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Sync.PartialInterval.Duration)
	assert.Equal(t, 30*24*time.Hour, cfg.Sync.BootstrapWindow.Duration)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
	assert.True(t, cfg.Server.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[exchanges.bitunix]
api_key = "from-file"
active = false
`)

	t.Setenv("JOURNAL_EXCHANGE_BITUNIX_API_KEY", "from-env")
	t.Setenv("JOURNAL_EXCHANGE_BITUNIX_ACTIVE", "true")
	t.Setenv("JOURNAL_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("JOURNAL_REDIS_ENABLED", "true")
	t.Setenv("JOURNAL_SYNC_FULL_INTERVAL", "2h")
	t.Setenv("JOURNAL_SERVER_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("JOURNAL_MODE", "sync")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Exchanges["bitunix"].APIKey)
	assert.True(t, cfg.Exchanges["bitunix"].Active)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Sync.FullInterval.Duration)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sync", cfg.Mode)
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	path := writeConfig(t, "")

	t.Setenv("JOURNAL_POSTGRES_PORT", "not-a-number")
	t.Setenv("JOURNAL_REDIS_ENABLED", "not-a-bool")
	t.Setenv("JOURNAL_SYNC_FULL_INTERVAL", "eleventy minutes")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Sync.FullInterval.Duration)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "daemon"
	cfg.LogLevel = "verbose"
	cfg.Postgres.Port = 0
	cfg.Postgres.PoolMaxConns = 0
	cfg.Sync.FullInterval = duration{}
	cfg.Exchanges["bitunix"] = ExchangeConfig{Active: true}

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "daemon"`)
	assert.Contains(t, msg, `unknown log_level "verbose"`)
	assert.Contains(t, msg, "postgres: port must be 1-65535")
	assert.Contains(t, msg, "postgres: pool_max_conns must be >= 1")
	assert.Contains(t, msg, "sync: full_interval must be positive")
	assert.Contains(t, msg, "exchanges.bitunix: api_key is required when active")
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateInactiveExchangeSkipsCredentialCheck(t *testing.T) {
	cfg := Defaults()
	cfg.Exchanges["bitunix"] = ExchangeConfig{Active: false}
	assert.NoError(t, cfg.Validate())
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	cfg.Postgres.DSN = "postgres://user:pass@db:5432/journal"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchanges["bitunix"] = ExchangeConfig{APIKey: "key", APISecret: "secret", Active: true}
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "redispass"
	cfg.Server.APIKey = "serverkey"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Exchanges["bitunix"].APIKey)
	assert.Equal(t, "***", red.Exchanges["bitunix"].APISecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Non-secret fields and the original are untouched.
	assert.True(t, red.Exchanges["bitunix"].Active)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, "key", cfg.Exchanges["bitunix"].APIKey)
}
