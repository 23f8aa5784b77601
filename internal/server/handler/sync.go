package handler

import (
	"context"
	"log/slog"
	"net/http"

	"tradejournal/internal/domain"
	"tradejournal/internal/service"
)

// TradeSyncer defines the trade-sync operations the sync handler exposes.
type TradeSyncer interface {
	SyncAll(ctx context.Context, forceFull bool) map[string]domain.TradeSyncResult
	SyncExchangeTrades(ctx context.Context, name string, forceFull bool) domain.TradeSyncResult
	ForceResync(ctx context.Context, name string) domain.TradeSyncResult
	Stats(ctx context.Context, name string) (map[string]service.ExchangeStats, error)
	SyncHealth(ctx context.Context) service.SyncHealthReport
}

// PartialSyncer re-polls previously partially closed positions.
type PartialSyncer interface {
	SyncPartialPositions(ctx context.Context, name string) domain.SyncResult
}

// SyncHandler serves sync trigger and sync status endpoints.
type SyncHandler struct {
	trades   TradeSyncer
	partials PartialSyncer
	logger   *slog.Logger
}

// NewSyncHandler creates a SyncHandler with the given services and logger.
func NewSyncHandler(trades TradeSyncer, partials PartialSyncer, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		trades:   trades,
		partials: partials,
		logger:   logHandler(logger, "sync"),
	}
}

// SyncAll runs a full position and trade sync for every active exchange.
// POST /api/sync?force=true
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	results := h.trades.SyncAll(r.Context(), forceParam(r))
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// SyncExchange runs a position and trade sync for one exchange. With
// force=true the incremental window is discarded and the full bootstrap
// window is re-fetched.
// POST /api/sync/{exchange}?force=true
func (h *SyncHandler) SyncExchange(w http.ResponseWriter, r *http.Request) {
	exchange := r.PathValue("exchange")

	var result domain.TradeSyncResult
	if forceParam(r) {
		result = h.trades.ForceResync(r.Context(), exchange)
	} else {
		result = h.trades.SyncExchangeTrades(r.Context(), exchange, false)
	}

	status := http.StatusOK
	if result.Status == domain.SyncStatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// SyncPartial re-polls the positions tracked as partially closed on one
// exchange.
// POST /api/sync/{exchange}/partial
func (h *SyncHandler) SyncPartial(w http.ResponseWriter, r *http.Request) {
	exchange := r.PathValue("exchange")

	result := h.partials.SyncPartialPositions(r.Context(), exchange)

	status := http.StatusOK
	if result.Status == domain.SyncStatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// Stats reports per-exchange trade counts and sync recency.
// GET /api/sync/stats?exchange=bitunix
func (h *SyncHandler) Stats(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")

	stats, err := h.trades.Stats(r.Context(), exchange)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sync stats failed",
			slog.String("exchange", exchange),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to collect sync stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// Health buckets every active exchange by sync freshness.
// GET /api/sync/health
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trades.SyncHealth(r.Context()))
}
