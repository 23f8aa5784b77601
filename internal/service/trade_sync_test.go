package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
)

type tradeHarness struct {
	*syncHarness
	trades *fakeTradeStore
	svc    *TradeSyncService
}

func newTradeHarness(t *testing.T, opts ...TradeSyncOption) *tradeHarness {
	t.Helper()

	h := &tradeHarness{
		syncHarness: newSyncHarness(t),
		trades:      newFakeTradeStore(),
	}

	allOpts := append([]TradeSyncOption{
		WithTradeSyncNow(func() time.Time { return h.now }),
	}, opts...)
	h.svc = NewTradeSyncService(
		h.syncHarness.svc, h.trades, h.states, h.syncLog,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		allOpts...,
	)
	return h
}

func TestSyncExchangeTradesCreates(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	h.client.history = []domain.Position{
		openPosition("1", "BTCUSDT"),
		closedPosition("2", "ETHUSDT"),
	}

	result := h.svc.SyncExchangeTrades(ctx, "bitunix", false)

	require.Equal(t, domain.SyncStatusCompleted, result.Status)
	assert.Equal(t, 2, result.PositionsProcessed)
	assert.Equal(t, 2, result.TradesCreated)
	assert.Equal(t, 0, result.TradesUpdated)

	entryTime := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	open, err := h.trades.GetByID(ctx, domain.TradeID("bitunix", "BTCUSDT", entryTime, domain.PositionSideLong))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, open.Status)
	require.NotNil(t, open.PnL)
	assert.True(t, open.PnL.Equal(decimal.NewFromInt(500)), "open trades carry unrealized pnl")
	assert.Nil(t, open.ExitPrice)
	assert.Nil(t, open.WinLoss)
	assert.NotNil(t, open.Confluences)
	assert.Empty(t, open.Confluences)

	closed, err := h.trades.GetByID(ctx, domain.TradeID("bitunix", "ETHUSDT", entryTime, domain.PositionSideLong))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(decimal.NewFromInt(50500)), "exit price falls back to mark price")
	require.NotNil(t, closed.ExitTime)
	require.NotNil(t, closed.PnL)
	assert.True(t, closed.PnL.Equal(decimal.NewFromInt(500)))
	require.NotNil(t, closed.WinLoss)
	assert.Equal(t, domain.WinLossWin, *closed.WinLoss)

	require.Len(t, h.syncLog.entries, 2, "position run plus trade run")
	assert.Equal(t, "trades", h.syncLog.entries[1].Kind)
}

func TestSyncExchangeTradesZeroPnLIsLoss(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	pos := closedPosition("1", "BTCUSDT")
	pos.RealizedPnL = decimal.Zero
	h.client.history = []domain.Position{pos}

	result := h.svc.SyncExchangeTrades(ctx, "bitunix", false)
	require.Equal(t, domain.SyncStatusCompleted, result.Status)

	trade, err := h.trades.GetByID(ctx, domain.TradeID("bitunix", "BTCUSDT", pos.OpenedAt, pos.Side))
	require.NoError(t, err)
	require.NotNil(t, trade.WinLoss)
	assert.Equal(t, domain.WinLossLoss, *trade.WinLoss)
}

func TestSyncExchangeTradesExitPriceFromRaw(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	pos := closedPosition("1", "BTCUSDT")
	pos.Raw = map[string]any{"close_price": "50750.5"}
	h.client.history = []domain.Position{pos}

	h.svc.SyncExchangeTrades(ctx, "bitunix", false)

	trade, err := h.trades.GetByID(ctx, domain.TradeID("bitunix", "BTCUSDT", pos.OpenedAt, pos.Side))
	require.NoError(t, err)
	require.NotNil(t, trade.ExitPrice)
	assert.True(t, trade.ExitPrice.Equal(decimal.RequireFromString("50750.5")))
}

func TestSyncExchangeTradesSkipsUnchanged(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	h.client.history = []domain.Position{closedPosition("1", "BTCUSDT")}

	first := h.svc.SyncExchangeTrades(ctx, "bitunix", false)
	require.Equal(t, 1, first.TradesCreated)

	second := h.svc.SyncExchangeTrades(ctx, "bitunix", false)
	require.Equal(t, domain.SyncStatusCompleted, second.Status)
	assert.Equal(t, 0, second.TradesCreated)
	assert.Equal(t, 0, second.TradesUpdated)
	assert.Equal(t, 1, second.TradesSkipped)
}

func TestSyncExchangeTradesCloseTransition(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	h.client.history = []domain.Position{openPosition("1", "BTCUSDT")}

	first := h.svc.SyncExchangeTrades(ctx, "bitunix", false)
	require.Equal(t, 1, first.TradesCreated)

	id := domain.TradeID("bitunix", "BTCUSDT", time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), domain.PositionSideLong)

	// The user annotates the open trade before the position closes.
	require.NoError(t, h.trades.SetConfluences(ctx, id, []string{"breakout", "volume"}))
	require.NoError(t, h.trades.SetCustomField(ctx, id, "setup", "london open"))

	h.client.history = []domain.Position{closedPosition("1", "BTCUSDT")}
	second := h.svc.SyncExchangeTrades(ctx, "bitunix", false)

	require.Equal(t, domain.SyncStatusCompleted, second.Status)
	assert.Equal(t, 1, second.TradesUpdated)

	trade, err := h.trades.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, trade.Status)
	require.NotNil(t, trade.ExitPrice)
	require.NotNil(t, trade.ExitTime)
	require.NotNil(t, trade.PnL)
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(500)))
	require.NotNil(t, trade.WinLoss)
	assert.Equal(t, domain.WinLossWin, *trade.WinLoss)

	// Annotations survive the sync untouched.
	assert.Equal(t, []string{"breakout", "volume"}, trade.Confluences)
	assert.Equal(t, "london open", trade.CustomFields["setup"])
}

func TestSyncExchangeTradesFailedPositionSync(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	h.client.historyErr = &exchange.RateLimitError{Message: "too many requests", RetryAfterSeconds: 30}

	result := h.svc.SyncExchangeTrades(ctx, "bitunix", false)

	require.Equal(t, domain.SyncStatusFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "exchange api error: ")
	assert.Equal(t, 0, result.TradesCreated)

	count, err := h.trades.CountByExchange(ctx, "bitunix")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestForceResyncClearsWindow(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	h.client.history = []domain.Position{closedPosition("1", "BTCUSDT")}

	h.svc.SyncExchangeTrades(ctx, "bitunix", false)
	_, ok := h.svc.LastSyncTime("bitunix")
	require.True(t, ok)

	result := h.svc.ForceResync(ctx, "bitunix")

	require.Equal(t, domain.SyncStatusCompleted, result.Status)
	assert.Equal(t, 1, result.PositionsProcessed, "a forced run reprocesses everything")
	require.Len(t, h.client.gotSince, 2)
	assert.True(t, h.client.gotSince[1].IsZero())
}

func TestFilterIncremental(t *testing.T) {
	h := newTradeHarness(t)
	last := h.now.Add(-2 * time.Hour)
	h.svc.setLastSync("bitunix", last)
	cutoff := last.Add(-30 * time.Minute)

	oldClosed := closedPosition("1", "BTCUSDT")
	before := cutoff.Add(-time.Minute)
	oldClosed.ClosedAt = &before

	freshClosed := closedPosition("2", "ETHUSDT")
	after := cutoff.Add(time.Minute)
	freshClosed.ClosedAt = &after

	oldOpen := openPosition("3", "SOLUSDT")
	oldOpen.OpenedAt = cutoff.Add(-time.Hour)

	freshOpen := openPosition("4", "XRPUSDT")
	freshOpen.OpenedAt = cutoff.Add(time.Hour)

	filtered := h.svc.filterIncremental("bitunix", []domain.Position{oldClosed, freshClosed, oldOpen, freshOpen})

	require.Len(t, filtered, 2)
	assert.Equal(t, "2", filtered[0].ID)
	assert.Equal(t, "4", filtered[1].ID)
}

func TestFilterIncrementalNoWindow(t *testing.T) {
	h := newTradeHarness(t)
	positions := []domain.Position{openPosition("1", "BTCUSDT")}

	filtered := h.svc.filterIncremental("bitunix", positions)
	assert.Len(t, filtered, 1, "first sync processes everything")
}

func TestStats(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t)
	h.client.history = []domain.Position{closedPosition("1", "BTCUSDT")}
	h.svc.SyncExchangeTrades(ctx, "bitunix", false)

	h.now = h.now.Add(2 * time.Hour)

	stats, err := h.svc.Stats(ctx, "")
	require.NoError(t, err)
	require.Contains(t, stats, "bitunix")

	st := stats["bitunix"]
	assert.Equal(t, int64(1), st.TotalTrades)
	require.NotNil(t, st.LastSyncTime)
	require.NotNil(t, st.SyncAgeHours)
	assert.InDelta(t, 2.0, *st.SyncAgeHours, 0.01)
}

func TestSyncHealth(t *testing.T) {
	ctx := t.Context()
	h := newTradeHarness(t, WithStaleThreshold(time.Hour))

	report := h.svc.SyncHealth(ctx)
	require.Equal(t, 1, report.TotalExchanges)
	assert.Equal(t, 1, report.NeverSynced)
	assert.Equal(t, domain.SyncHealthNeverSynced, report.Exchanges["bitunix"].Status)

	h.client.history = []domain.Position{closedPosition("1", "BTCUSDT")}
	h.svc.SyncExchangeTrades(ctx, "bitunix", false)

	report = h.svc.SyncHealth(ctx)
	assert.Equal(t, 1, report.SyncedExchanges)
	assert.Equal(t, domain.SyncHealthHealthy, report.Exchanges["bitunix"].Status)
	assert.Equal(t, domain.ConnectionStatusConnected, report.Exchanges["bitunix"].ConnectionStatus)

	h.now = h.now.Add(3 * time.Hour)

	report = h.svc.SyncHealth(ctx)
	assert.Equal(t, 1, report.StaleExchanges)
	assert.Equal(t, domain.SyncHealthStale, report.Exchanges["bitunix"].Status)
}

func TestBuildTradeUpdateAnnotationsAbsent(t *testing.T) {
	// TradeUpdate has no annotation fields at all, so an update derived from
	// any position cannot clobber user data.
	trade := domain.Trade{Status: domain.TradeStatusOpen}
	update := buildTradeUpdate(trade, closedPosition("1", "BTCUSDT"))

	require.NotNil(t, update.Status)
	assert.Equal(t, domain.TradeStatusClosed, *update.Status)
	require.NotNil(t, update.PnL)
	require.NotNil(t, update.WinLoss)
}
