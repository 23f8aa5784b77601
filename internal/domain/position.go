package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks how much of a position remains open on the exchange.
type PositionStatus string

const (
	PositionStatusOpen            PositionStatus = "open"
	PositionStatusPartiallyClosed PositionStatus = "partially_closed"
	PositionStatusClosed          PositionStatus = "closed"
)

// PositionSide is the direction of a derivative position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// ParsePositionSide normalizes exchange side strings. "long"/"buy" map to
// LONG and "short"/"sell" map to SHORT; anything else is an error.
func ParsePositionSide(s string) (PositionSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return PositionSideLong, nil
	case "short", "sell":
		return PositionSideShort, nil
	default:
		return "", fmt.Errorf("invalid position side %q", s)
	}
}

// Position is one exchange-reported position snapshot. The ID is stable
// across the position's lifecycle; MarkPrice, PnL, Status, and ClosedAt are
// replaced in place as newer snapshots arrive.
type Position struct {
	ID            string          `json:"id"`
	Exchange      string          `json:"exchange"`
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Status        PositionStatus  `json:"status"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`

	// Raw carries the original exchange payload so fields the canonical
	// model does not map are not lost.
	Raw map[string]any `json:"raw,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the invariants every Position must hold regardless of
// which exchange produced it.
func (p Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: position id is required", ErrInvalidPosition)
	}
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidPosition)
	}
	if p.Side != PositionSideLong && p.Side != PositionSideShort {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidPosition, p.Side)
	}
	if !p.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive", ErrInvalidPosition)
	}
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidPosition)
	}
	if !p.MarkPrice.IsPositive() {
		return fmt.Errorf("%w: mark price must be positive", ErrInvalidPosition)
	}
	switch p.Status {
	case PositionStatusOpen, PositionStatusPartiallyClosed, PositionStatusClosed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPosition, p.Status)
	}
	if p.OpenedAt.IsZero() {
		return fmt.Errorf("%w: open time is required", ErrInvalidPosition)
	}
	if p.ClosedAt != nil && p.ClosedAt.Before(p.OpenedAt) {
		return fmt.Errorf("%w: close time before open time", ErrInvalidPosition)
	}
	if p.Status == PositionStatusClosed && p.ClosedAt == nil {
		return fmt.Errorf("%w: closed position missing close time", ErrInvalidPosition)
	}
	return nil
}

// TotalPnL is realized plus unrealized PnL.
func (p Position) TotalPnL() decimal.Decimal {
	return p.RealizedPnL.Add(p.UnrealizedPnL)
}

// ComputeUnrealizedPnL recomputes the unrealized PnL from the current mark
// price and the entry price.
func (p Position) ComputeUnrealizedPnL() decimal.Decimal {
	if p.Side == PositionSideLong {
		return p.MarkPrice.Sub(p.EntryPrice).Mul(p.Size)
	}
	return p.EntryPrice.Sub(p.MarkPrice).Mul(p.Size)
}

// IsClosed reports whether the position is fully closed.
func (p Position) IsClosed() bool {
	return p.Status == PositionStatusClosed
}

// IsPartiallyClosed reports whether the position still needs follow-up
// polling before it converges to closed.
func (p Position) IsPartiallyClosed() bool {
	return p.Status == PositionStatusPartiallyClosed
}
