package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "tradejournal/internal/blob/s3"
	"tradejournal/internal/cache/memory"
	"tradejournal/internal/cache/redis"
	"tradejournal/internal/config"
	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
	"tradejournal/internal/exchange/bitunix"
	"tradejournal/internal/notify"
	"tradejournal/internal/ratelimit"
	"tradejournal/internal/service"
	"tradejournal/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore domain.TradeStore
	StateStore domain.ExchangeStateStore
	SyncLog    domain.SyncLogStore

	// Caches. Backed by Redis when enabled, otherwise process-local.
	Positions domain.PositionCache
	Partials  domain.PartialTracker
	Clock     domain.SyncClock
	Locks     domain.LockManager

	// Exchange access and sync services
	Registry     *exchange.Registry
	ExchangeSync *service.ExchangeSyncService
	TradeSync    *service.TradeSyncService

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.StateStore = postgres.NewExchangeStateStore(pool)
	deps.SyncLog = postgres.NewSyncLogStore(pool)

	// --- Caches: Redis when enabled, process-local otherwise ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Positions = redis.NewPositionCache(redisClient)
		deps.Partials = redis.NewPartialTracker(redisClient)
		deps.Clock = redis.NewSyncClock(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	} else {
		deps.Positions = memory.NewPositionCache()
		deps.Partials = memory.NewPartialTracker()
		deps.Clock = memory.NewSyncClock()
		deps.Locks = memory.NewLockManager()
	}

	// --- Exchange registry ---
	registry := exchange.NewRegistry(logger)
	if err := registry.Register(bitunix.Descriptor()); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: register bitunix: %w", err)
	}
	deps.Registry = registry

	settings := make(map[string]service.ExchangeSettings, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		settings[name] = service.ExchangeSettings{
			Credentials: exchange.Credentials{
				APIKey:    ex.APIKey,
				APISecret: ex.APISecret,
			},
			Active: ex.Active,
			RateLimits: ratelimit.Config{
				RequestsPerSecond: ex.RequestsPerSecond,
				RequestsPerMinute: ex.RequestsPerMinute,
				RequestsPerHour:   ex.RequestsPerHour,
			},
		}
	}

	// --- Sync services ---
	syncOpts := []service.ExchangeSyncOption{
		service.WithSyncWindows(service.SyncWindows{
			Overlap:   cfg.Sync.OverlapWindow.Duration,
			Bootstrap: cfg.Sync.BootstrapWindow.Duration,
		}),
	}

	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 archive: %w", err)
		}
		syncOpts = append(syncOpts, service.WithArchiver(s3blob.NewWriter(s3Client)))
	}

	deps.ExchangeSync = service.NewExchangeSyncService(
		registry, settings,
		deps.Positions, deps.Partials, deps.Clock, deps.Locks,
		deps.StateStore, deps.SyncLog,
		logger,
		syncOpts...,
	)
	deps.TradeSync = service.NewTradeSyncService(
		deps.ExchangeSync, deps.TradeStore, deps.StateStore, deps.SyncLog,
		logger,
		service.WithStaleThreshold(cfg.Sync.StaleThreshold.Duration),
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
