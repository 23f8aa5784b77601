package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus mirrors PositionStatus for the persisted journal record.
type TradeStatus string

const (
	TradeStatusOpen            TradeStatus = "open"
	TradeStatusPartiallyClosed TradeStatus = "partially_closed"
	TradeStatusClosed          TradeStatus = "closed"
)

// WinLoss classifies a finished trade by its PnL sign.
type WinLoss string

const (
	WinLossWin  WinLoss = "win"
	WinLossLoss WinLoss = "loss"
)

// ClassifyPnL maps a PnL to a win/loss bucket. Zero PnL counts as a loss.
func ClassifyPnL(pnl decimal.Decimal) WinLoss {
	if pnl.IsPositive() {
		return WinLossWin
	}
	return WinLossLoss
}

// Trade is the locally persisted, user-annotatable journal record derived
// from one position. Confluences and CustomFields belong to the user; the
// sync pipeline never writes them after creation.
type Trade struct {
	ID         string          `json:"id"`
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  time.Time       `json:"entry_time"`
	Status     TradeStatus     `json:"status"`

	ExitPrice *decimal.Decimal `json:"exit_price,omitempty"`
	ExitTime  *time.Time       `json:"exit_time,omitempty"`
	PnL       *decimal.Decimal `json:"pnl,omitempty"`
	WinLoss   *WinLoss         `json:"win_loss,omitempty"`

	Confluences  []string       `json:"confluences"`
	CustomFields map[string]any `json:"custom_fields"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the integrity constraints for a trade record.
func (t Trade) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trade id is required")
	}
	if t.Exchange == "" {
		return fmt.Errorf("trade exchange is required")
	}
	if t.Symbol == "" {
		return fmt.Errorf("trade symbol is required")
	}
	if t.Side != PositionSideLong && t.Side != PositionSideShort {
		return fmt.Errorf("trade side %q is invalid", t.Side)
	}
	if !t.EntryPrice.IsPositive() {
		return fmt.Errorf("trade entry price must be positive")
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("trade quantity must be positive")
	}
	if t.EntryTime.IsZero() {
		return fmt.Errorf("trade entry time is required")
	}
	if t.ExitPrice != nil && !t.ExitPrice.IsPositive() {
		return fmt.Errorf("trade exit price must be positive")
	}
	if t.ExitTime != nil && t.ExitTime.Before(t.EntryTime) {
		return fmt.Errorf("trade exit time before entry time")
	}
	if t.Status == TradeStatusClosed {
		if t.ExitPrice == nil {
			return fmt.Errorf("closed trade missing exit price")
		}
		if t.ExitTime == nil {
			return fmt.Errorf("closed trade missing exit time")
		}
		if t.PnL == nil {
			return fmt.Errorf("closed trade missing pnl")
		}
	}
	return nil
}

// TradeID derives the deterministic identity used for idempotent upserts:
// the same exchange, symbol, open time, and side always produce the same ID.
func TradeID(exchange, symbol string, entryTime time.Time, side PositionSide) string {
	return fmt.Sprintf("%s_%s_%s_%s", exchange, symbol, entryTime.UTC().Format(time.RFC3339), side)
}

// TradeUpdate is the targeted set of sync-owned fields applied when a
// position diverges from its stored trade. Nil pointers mean "leave as is";
// annotation fields are intentionally absent.
type TradeUpdate struct {
	Status    *TradeStatus
	ExitPrice *decimal.Decimal
	ExitTime  *time.Time
	PnL       *decimal.Decimal
	WinLoss   *WinLoss
}

// Empty reports whether the update would change nothing.
func (u TradeUpdate) Empty() bool {
	return u.Status == nil && u.ExitPrice == nil && u.ExitTime == nil && u.PnL == nil && u.WinLoss == nil
}
