package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tradejournal/internal/server"
	"tradejournal/internal/server/handler"
)

// ServeMode runs the HTTP API together with the background watch loop, which
// keeps positions and trades fresh while the API serves reads.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	g.Go(func() error {
		return a.watchLoop(ctx, deps)
	})

	return g.Wait()
}

// SyncMode runs one full sync across every active exchange, prints the
// results as JSON to stdout, and exits.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting one-shot sync")

	results := deps.TradeSync.SyncAll(ctx, false)
	for _, result := range results {
		if err := deps.Notifier.TradeSyncResult(ctx, result); err != nil {
			a.logger.WarnContext(ctx, "notification failed",
				slog.String("exchange", result.Exchange),
				slog.String("error", err.Error()),
			)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("sync mode: encode results: %w", err)
	}
	return nil
}

// WatchMode runs the periodic sync loop without the HTTP API.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.watchLoop(ctx, deps)
	})
	return g.Wait()
}

// watchLoop runs an immediate full sync, then alternates between a full sync
// ticker and a faster partial re-poll ticker until the context ends.
func (a *App) watchLoop(ctx context.Context, deps *Dependencies) error {
	a.runFullSync(ctx, deps)

	full := time.NewTicker(a.cfg.Sync.FullInterval.Duration)
	defer full.Stop()
	partial := time.NewTicker(a.cfg.Sync.PartialInterval.Duration)
	defer partial.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-full.C:
			a.runFullSync(ctx, deps)
		case <-partial.C:
			a.runPartialSync(ctx, deps)
		}
	}
}

// runFullSync syncs positions and trades for every active exchange and sends
// the configured notifications.
func (a *App) runFullSync(ctx context.Context, deps *Dependencies) {
	results := deps.TradeSync.SyncAll(ctx, false)
	for _, result := range results {
		if err := deps.Notifier.TradeSyncResult(ctx, result); err != nil {
			a.logger.WarnContext(ctx, "notification failed",
				slog.String("exchange", result.Exchange),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runPartialSync re-polls the partially closed positions tracked on each
// active exchange. Exchanges with nothing tracked return immediately.
func (a *App) runPartialSync(ctx context.Context, deps *Dependencies) {
	for _, name := range deps.ExchangeSync.ActiveExchanges() {
		result := deps.ExchangeSync.SyncPartialPositions(ctx, name)
		if result.PositionsFetched == 0 && result.Successful() {
			continue
		}
		if err := deps.Notifier.PartialSyncResult(ctx, result); err != nil {
			a.logger.WarnContext(ctx, "notification failed",
				slog.String("exchange", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// startHTTPServer wires the endpoint handlers and runs the server under the
// errgroup, shutting it down gracefully when the context ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(
		server.Config{
			Port:               a.cfg.Server.Port,
			CORSOrigins:        a.cfg.Server.CORSOrigins,
			APIKey:             a.cfg.Server.APIKey,
			RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Positions: handler.NewPositionHandler(deps.ExchangeSync, a.logger),
			Sync:      handler.NewSyncHandler(deps.TradeSync, deps.ExchangeSync, a.logger),
			Trades:    handler.NewTradeHandler(deps.TradeStore, a.logger),
			Exchanges: handler.NewExchangeHandler(deps.Registry, deps.ExchangeSync, a.logger),
		},
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
