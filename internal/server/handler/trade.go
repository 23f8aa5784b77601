package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tradejournal/internal/domain"
)

// TradeHandler serves journal trade listing and annotation endpoints. The
// annotation writers here are the only code paths that touch confluences and
// custom fields; sync never does.
type TradeHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given store and logger.
func NewTradeHandler(trades domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trades"),
	}
}

// listTradesResponse wraps the trade listing with its total count.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
	Total  int64          `json:"total"`
}

// ListTrades returns stored trades for one exchange, newest first.
// GET /api/trades?exchange=bitunix&limit=50&offset=0&since=...&until=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		writeError(w, http.StatusBadRequest, "exchange query parameter required")
		return
	}
	opts := parseListOpts(r)

	trades, err := h.trades.ListByExchange(r.Context(), exchange, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("exchange", exchange),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	total, err := h.trades.CountByExchange(r.Context(), exchange)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count trades failed",
			slog.String("exchange", exchange),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count trades")
		return
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Total: total})
}

// GetTrade returns one trade by its deterministic ID.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get trade failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// setConfluencesRequest is the body of PUT /api/trades/{id}/confluences.
type setConfluencesRequest struct {
	Confluences []string `json:"confluences"`
}

// SetConfluences replaces the confluence tags on a trade.
// PUT /api/trades/{id}/confluences
func (h *TradeHandler) SetConfluences(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req setConfluencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Confluences == nil {
		req.Confluences = []string{}
	}

	if err := h.trades.SetConfluences(r.Context(), id, req.Confluences); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "set confluences failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update confluences")
		return
	}

	h.respondWithTrade(w, r, id)
}

// setFieldRequest is the body of PUT /api/trades/{id}/fields/{name}.
type setFieldRequest struct {
	Value any `json:"value"`
}

// SetCustomField sets one custom field on a trade. The value may be any JSON
// type.
// PUT /api/trades/{id}/fields/{name}
func (h *TradeHandler) SetCustomField(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "field name required")
		return
	}

	var req setFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.trades.SetCustomField(r.Context(), id, name, req.Value); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "set custom field failed",
			slog.String("id", id),
			slog.String("field", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update custom field")
		return
	}

	h.respondWithTrade(w, r, id)
}

// respondWithTrade reloads a trade after an annotation write so the client
// sees the stored state.
func (h *TradeHandler) respondWithTrade(w http.ResponseWriter, r *http.Request, id string) {
	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reload trade failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}
