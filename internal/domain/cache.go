package domain

import (
	"context"
	"time"
)

// PositionCache stores the reconciled position snapshots per exchange,
// keyed by position ID. Implementations must be safe for concurrent use.
type PositionCache interface {
	Put(ctx context.Context, pos Position) error
	Get(ctx context.Context, exchange, positionID string) (Position, error)
	Snapshot(ctx context.Context, exchange string) (map[string]Position, error)
	Exchanges(ctx context.Context) ([]string, error)
}

// PartialTracker remembers which position IDs are partially closed and need
// follow-up polling until they converge to closed.
type PartialTracker interface {
	Track(ctx context.Context, exchange, positionID string) error
	Untrack(ctx context.Context, exchange, positionID string) error
	Tracked(ctx context.Context, exchange string) ([]string, error)
}

// SyncClock remembers when each exchange was last synced, used to derive the
// incremental sync window.
type SyncClock interface {
	SetLastSync(ctx context.Context, exchange string, t time.Time) error
	LastSync(ctx context.Context, exchange string) (time.Time, bool, error)
}

// LockManager serializes sync runs per exchange so a scheduled sync and a
// manual one cannot interleave on the same cache entries.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
