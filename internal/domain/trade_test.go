package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeID(t *testing.T) {
	opened := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	id := TradeID("bitunix", "BTCUSDT", opened, PositionSideLong)
	assert.Equal(t, "bitunix_BTCUSDT_2026-03-14T09:30:00Z_long", id)

	// Same inputs always produce the same identity.
	assert.Equal(t, id, TradeID("bitunix", "BTCUSDT", opened, PositionSideLong))

	// Non-UTC times normalize to UTC before formatting.
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, id, TradeID("bitunix", "BTCUSDT", opened.In(est), PositionSideLong))

	// Any varying component produces a distinct identity.
	assert.NotEqual(t, id, TradeID("bitunix", "BTCUSDT", opened, PositionSideShort))
	assert.NotEqual(t, id, TradeID("bitunix", "ETHUSDT", opened, PositionSideLong))
	assert.NotEqual(t, id, TradeID("bitunix", "BTCUSDT", opened.Add(time.Second), PositionSideLong))
}

func TestClassifyPnL(t *testing.T) {
	assert.Equal(t, WinLossWin, ClassifyPnL(decimal.NewFromFloat(0.01)))
	assert.Equal(t, WinLossLoss, ClassifyPnL(decimal.NewFromFloat(-3.5)))

	// Breakeven counts as a loss.
	assert.Equal(t, WinLossLoss, ClassifyPnL(decimal.Zero))
}

func TestParsePositionSide(t *testing.T) {
	for in, want := range map[string]PositionSide{
		"long":  PositionSideLong,
		"LONG":  PositionSideLong,
		"buy":   PositionSideLong,
		" Sell": PositionSideShort,
		"short": PositionSideShort,
	} {
		got, err := ParsePositionSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePositionSide("sideways")
	assert.Error(t, err)
}

func validTrade() Trade {
	return Trade{
		ID:         "bitunix_BTCUSDT_2026-03-14T09:30:00Z_long",
		Exchange:   "bitunix",
		Symbol:     "BTCUSDT",
		Side:       PositionSideLong,
		EntryPrice: decimal.NewFromInt(50000),
		Quantity:   decimal.NewFromFloat(0.5),
		EntryTime:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Status:     TradeStatusOpen,
	}
}

func TestTradeValidate(t *testing.T) {
	require.NoError(t, validTrade().Validate())

	t.Run("closed requires exit data", func(t *testing.T) {
		tr := validTrade()
		tr.Status = TradeStatusClosed
		assert.Error(t, tr.Validate())

		exitPrice := decimal.NewFromInt(51000)
		exitTime := tr.EntryTime.Add(2 * time.Hour)
		pnl := decimal.NewFromInt(500)
		tr.ExitPrice = &exitPrice
		tr.ExitTime = &exitTime
		tr.PnL = &pnl
		assert.NoError(t, tr.Validate())
	})

	t.Run("exit before entry", func(t *testing.T) {
		tr := validTrade()
		early := tr.EntryTime.Add(-time.Minute)
		tr.ExitTime = &early
		assert.Error(t, tr.Validate())
	})

	t.Run("non-positive quantities", func(t *testing.T) {
		tr := validTrade()
		tr.Quantity = decimal.Zero
		assert.Error(t, tr.Validate())

		tr = validTrade()
		tr.EntryPrice = decimal.NewFromInt(-1)
		assert.Error(t, tr.Validate())
	})
}

func TestTradeUpdateEmpty(t *testing.T) {
	assert.True(t, TradeUpdate{}.Empty())

	status := TradeStatusClosed
	assert.False(t, TradeUpdate{Status: &status}.Empty())
}
