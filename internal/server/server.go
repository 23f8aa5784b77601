// Package server exposes the journal's HTTP API: cached position snapshots,
// stored trades and their annotations, and manual sync triggers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tradejournal/internal/server/handler"
	"tradejournal/internal/server/middleware"
)

// Config holds the HTTP server parameters.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKey             string
	RateLimitPerMinute int
}

// Handlers aggregates the endpoint handlers wired by the app layer.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Sync      *handler.SyncHandler
	Trades    *handler.TradeHandler
	Exchanges *handler.ExchangeHandler
}

// Server wraps the standard library HTTP server with the journal's routes
// and middleware chain.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the route table and middleware chain. Routes use Go 1.22
// method routing.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/partial", h.Positions.ListPartialPositions)

	mux.HandleFunc("POST /api/sync", h.Sync.SyncAll)
	mux.HandleFunc("POST /api/sync/{exchange}", h.Sync.SyncExchange)
	mux.HandleFunc("POST /api/sync/{exchange}/partial", h.Sync.SyncPartial)
	mux.HandleFunc("GET /api/sync/stats", h.Sync.Stats)
	mux.HandleFunc("GET /api/sync/health", h.Sync.Health)

	mux.HandleFunc("GET /api/trades", h.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", h.Trades.GetTrade)
	mux.HandleFunc("PUT /api/trades/{id}/confluences", h.Trades.SetConfluences)
	mux.HandleFunc("PUT /api/trades/{id}/fields/{name}", h.Trades.SetCustomField)

	mux.HandleFunc("GET /api/exchanges", h.Exchanges.ListExchanges)

	// Innermost first: auth runs after logging and CORS so that preflight
	// requests and request logs do not require a key.
	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey)(root)
	root = middleware.RateLimit(cfg.RateLimitPerMinute)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// Start begins serving and blocks until the server stops. A graceful
// Shutdown does not surface as an error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
