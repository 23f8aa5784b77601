package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradejournal/internal/domain"
)

type stubTradeStore struct {
	trades map[string]domain.Trade
}

func newStubTradeStore(trades ...domain.Trade) *stubTradeStore {
	s := &stubTradeStore{trades: make(map[string]domain.Trade)}
	for _, t := range trades {
		s.trades[t.ID] = t
	}
	return s
}

func (s *stubTradeStore) Create(_ context.Context, trade domain.Trade) error {
	s.trades[trade.ID] = trade
	return nil
}

func (s *stubTradeStore) ApplyUpdates(_ context.Context, id string, _ domain.TradeUpdate) error {
	if _, ok := s.trades[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *stubTradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	trade, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return trade, nil
}

func (s *stubTradeStore) ListByExchange(_ context.Context, exchange string, _ domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, trade := range s.trades {
		if trade.Exchange == exchange {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (s *stubTradeStore) CountByExchange(_ context.Context, exchange string) (int64, error) {
	var n int64
	for _, trade := range s.trades {
		if trade.Exchange == exchange {
			n++
		}
	}
	return n, nil
}

func (s *stubTradeStore) SetConfluences(_ context.Context, id string, confluences []string) error {
	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	trade.Confluences = confluences
	s.trades[id] = trade
	return nil
}

func (s *stubTradeStore) SetCustomField(_ context.Context, id string, name string, value any) error {
	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	if trade.CustomFields == nil {
		trade.CustomFields = make(map[string]any)
	}
	trade.CustomFields[name] = value
	s.trades[id] = trade
	return nil
}

func sampleTrade(id string) domain.Trade {
	return domain.Trade{
		ID:           id,
		Exchange:     "bitunix",
		Symbol:       "BTCUSDT",
		Side:         domain.PositionSideLong,
		EntryPrice:   decimal.NewFromInt(50000),
		Quantity:     decimal.NewFromInt(1),
		EntryTime:    time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Status:       domain.TradeStatusOpen,
		Confluences:  []string{},
		CustomFields: map[string]any{},
	}
}

func newTradeHandler(store domain.TradeStore) *TradeHandler {
	return NewTradeHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListTradesRequiresExchange(t *testing.T) {
	h := newTradeHandler(newStubTradeStore())

	r := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	w := httptest.NewRecorder()
	h.ListTrades(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exchange query parameter required")
}

func TestListTrades(t *testing.T) {
	h := newTradeHandler(newStubTradeStore(sampleTrade("t1"), sampleTrade("t2")))

	r := httptest.NewRequest(http.MethodGet, "/api/trades?exchange=bitunix", nil)
	w := httptest.NewRecorder()
	h.ListTrades(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var resp struct {
		Trades []domain.Trade `json:"trades"`
		Total  int64          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Trades, 2)
	assert.Equal(t, int64(2), resp.Total)
}

func TestListTradesEmptyExchange(t *testing.T) {
	h := newTradeHandler(newStubTradeStore())

	r := httptest.NewRequest(http.MethodGet, "/api/trades?exchange=bitunix", nil)
	w := httptest.NewRecorder()
	h.ListTrades(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"trades":[]`, "no trades serializes as an empty array, not null")
}

func TestGetTrade(t *testing.T) {
	h := newTradeHandler(newStubTradeStore(sampleTrade("t1")))

	r := httptest.NewRequest(http.MethodGet, "/api/trades/t1", nil)
	r.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	h.GetTrade(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"t1"`)
}

func TestGetTradeNotFound(t *testing.T) {
	h := newTradeHandler(newStubTradeStore())

	r := httptest.NewRequest(http.MethodGet, "/api/trades/missing", nil)
	r.SetPathValue("id", "missing")
	w := httptest.NewRecorder()
	h.GetTrade(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetConfluences(t *testing.T) {
	store := newStubTradeStore(sampleTrade("t1"))
	h := newTradeHandler(store)

	body := strings.NewReader(`{"confluences":["breakout","volume"]}`)
	r := httptest.NewRequest(http.MethodPut, "/api/trades/t1/confluences", body)
	r.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	h.SetConfluences(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"breakout", "volume"}, store.trades["t1"].Confluences)
	assert.Contains(t, w.Body.String(), "breakout", "response carries the stored trade")
}

func TestSetConfluencesInvalidBody(t *testing.T) {
	h := newTradeHandler(newStubTradeStore(sampleTrade("t1")))

	r := httptest.NewRequest(http.MethodPut, "/api/trades/t1/confluences", strings.NewReader("{"))
	r.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	h.SetConfluences(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetCustomField(t *testing.T) {
	store := newStubTradeStore(sampleTrade("t1"))
	h := newTradeHandler(store)

	body := strings.NewReader(`{"value":"london open"}`)
	r := httptest.NewRequest(http.MethodPut, "/api/trades/t1/fields/setup", body)
	r.SetPathValue("id", "t1")
	r.SetPathValue("name", "setup")
	w := httptest.NewRecorder()
	h.SetCustomField(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "london open", store.trades["t1"].CustomFields["setup"])
}

func TestSetCustomFieldOnMissingTrade(t *testing.T) {
	h := newTradeHandler(newStubTradeStore())

	r := httptest.NewRequest(http.MethodPut, "/api/trades/nope/fields/setup", strings.NewReader(`{"value":1}`))
	r.SetPathValue("id", "nope")
	r.SetPathValue("name", "setup")
	w := httptest.NewRecorder()
	h.SetCustomField(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
