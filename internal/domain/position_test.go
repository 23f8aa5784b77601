package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPosition() Position {
	return Position{
		ID:         "12345",
		Exchange:   "bitunix",
		Symbol:     "BTCUSDT",
		Side:       PositionSideLong,
		Size:       decimal.NewFromFloat(0.5),
		EntryPrice: decimal.NewFromInt(50000),
		MarkPrice:  decimal.NewFromInt(50500),
		Status:     PositionStatusOpen,
		OpenedAt:   time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestPositionValidate(t *testing.T) {
	require.NoError(t, validPosition().Validate())

	t.Run("closed requires close time", func(t *testing.T) {
		pos := validPosition()
		pos.Status = PositionStatusClosed
		err := pos.Validate()
		require.ErrorIs(t, err, ErrInvalidPosition)

		closed := pos.OpenedAt.Add(time.Hour)
		pos.ClosedAt = &closed
		assert.NoError(t, pos.Validate())
	})

	t.Run("close before open", func(t *testing.T) {
		pos := validPosition()
		closed := pos.OpenedAt.Add(-time.Minute)
		pos.ClosedAt = &closed
		assert.ErrorIs(t, pos.Validate(), ErrInvalidPosition)
	})

	t.Run("unknown side and status", func(t *testing.T) {
		pos := validPosition()
		pos.Side = "diagonal"
		assert.ErrorIs(t, pos.Validate(), ErrInvalidPosition)

		pos = validPosition()
		pos.Status = "liquidated"
		assert.ErrorIs(t, pos.Validate(), ErrInvalidPosition)
	})
}

func TestComputeUnrealizedPnL(t *testing.T) {
	pos := validPosition()
	// Long: (mark - entry) * size = 500 * 0.5
	assert.True(t, pos.ComputeUnrealizedPnL().Equal(decimal.NewFromInt(250)))

	pos.Side = PositionSideShort
	assert.True(t, pos.ComputeUnrealizedPnL().Equal(decimal.NewFromInt(-250)))
}

func TestPositionLifecycleFlags(t *testing.T) {
	pos := validPosition()
	assert.False(t, pos.IsClosed())
	assert.False(t, pos.IsPartiallyClosed())

	pos.Status = PositionStatusPartiallyClosed
	assert.True(t, pos.IsPartiallyClosed())

	pos.Status = PositionStatusClosed
	assert.True(t, pos.IsClosed())
}
