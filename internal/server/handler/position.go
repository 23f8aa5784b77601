package handler

import (
	"context"
	"log/slog"
	"net/http"

	"tradejournal/internal/domain"
)

// PositionReader defines the methods the position handler requires.
type PositionReader interface {
	Positions(ctx context.Context, exchange string) (map[string][]domain.Position, error)
	PartialPositions(ctx context.Context, exchange string) (map[string][]domain.Position, error)
}

// PositionHandler serves the cached position snapshots.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

// listPositionsResponse wraps cached positions grouped by exchange.
type listPositionsResponse struct {
	Positions map[string][]domain.Position `json:"positions"`
}

// ListPositions returns the cached positions, optionally restricted to one
// exchange.
// GET /api/positions?exchange=bitunix
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")

	positions, err := h.positions.Positions(r.Context(), exchange)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("exchange", exchange),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = map[string][]domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListPartialPositions returns the cached positions currently tracked as
// partially closed.
// GET /api/positions/partial?exchange=bitunix
func (h *PositionHandler) ListPartialPositions(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")

	positions, err := h.positions.PartialPositions(r.Context(), exchange)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list partial positions failed",
			slog.String("exchange", exchange),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list partial positions")
		return
	}
	if positions == nil {
		positions = map[string][]domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
