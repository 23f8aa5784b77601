package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
	"tradejournal/internal/service"
)

// ExchangeStateReader exposes per-exchange runtime state and configuration.
type ExchangeStateReader interface {
	ExchangeStates(ctx context.Context) ([]domain.ExchangeState, error)
	Settings(name string) (service.ExchangeSettings, bool)
}

// ExchangeHandler lists the supported exchanges together with their
// configured and runtime state.
type ExchangeHandler struct {
	registry *exchange.Registry
	states   ExchangeStateReader
	logger   *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(registry *exchange.Registry, states ExchangeStateReader, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		registry: registry,
		states:   states,
		logger:   logHandler(logger, "exchanges"),
	}
}

// exchangeInfo is one entry in the exchange listing.
type exchangeInfo struct {
	Name             string                  `json:"name"`
	DisplayName      string                  `json:"display_name"`
	Description      string                  `json:"description,omitempty"`
	RequiresSecret   bool                    `json:"requires_secret"`
	Configured       bool                    `json:"configured"`
	Active           bool                    `json:"active"`
	ConnectionStatus domain.ConnectionStatus `json:"connection_status"`
	LastSyncAt       *time.Time              `json:"last_sync_at,omitempty"`
}

// ListExchanges returns every registered exchange, whether it is configured
// and active, and its last known connection state.
// GET /api/exchanges
func (h *ExchangeHandler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	states, err := h.states.ExchangeStates(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list exchange states failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list exchanges")
		return
	}
	byName := make(map[string]domain.ExchangeState, len(states))
	for _, st := range states {
		byName[st.Exchange] = st
	}

	descriptors := h.registry.Descriptors()
	infos := make([]exchangeInfo, 0, len(descriptors))
	for _, d := range descriptors {
		info := exchangeInfo{
			Name:             d.Name,
			DisplayName:      d.DisplayName,
			Description:      d.Description,
			RequiresSecret:   d.RequiresSecret,
			ConnectionStatus: domain.ConnectionStatusUnknown,
		}
		if settings, ok := h.states.Settings(d.Name); ok {
			info.Configured = true
			info.Active = settings.Active
		}
		if st, ok := byName[d.Name]; ok {
			info.ConnectionStatus = st.ConnectionStatus
			info.LastSyncAt = st.LastSyncAt
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{"exchanges": infos})
}
