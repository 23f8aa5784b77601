package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists journal trades. Create and ApplyUpdates are the only
// write paths the sync pipeline uses; the annotation writers are reserved for
// the user-facing API and are never called during sync.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	ApplyUpdates(ctx context.Context, id string, update TradeUpdate) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByExchange(ctx context.Context, exchange string, opts ListOpts) ([]Trade, error)
	CountByExchange(ctx context.Context, exchange string) (int64, error)

	SetConfluences(ctx context.Context, id string, confluences []string) error
	SetCustomField(ctx context.Context, id string, name string, value any) error
}

// ExchangeStateStore persists per-exchange connection status and last sync
// time so sync history survives restarts.
type ExchangeStateStore interface {
	Upsert(ctx context.Context, state ExchangeState) error
	Get(ctx context.Context, exchange string) (ExchangeState, error)
	List(ctx context.Context) ([]ExchangeState, error)
}

// SyncLogEntry is one appended record of a finished sync run.
type SyncLogEntry struct {
	RunID      string
	Exchange   string
	Kind       string // "positions" or "trades"
	Status     SyncStatus
	Fetched    int
	Added      int
	Updated    int
	Skipped    int
	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SyncLogStore persists an append-only history of sync runs.
type SyncLogStore interface {
	Append(ctx context.Context, entry SyncLogEntry) error
	ListRecent(ctx context.Context, exchange string, limit int) ([]SyncLogEntry, error)
}
