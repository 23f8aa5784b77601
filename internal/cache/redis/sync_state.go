package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradejournal/internal/domain"
)

// PartialTracker implements domain.PartialTracker on Redis sets, one per
// exchange, holding the IDs of partially closed positions awaiting
// follow-up polling.
type PartialTracker struct {
	rdb *redis.Client
}

// NewPartialTracker creates a PartialTracker backed by the given Client.
func NewPartialTracker(c *Client) *PartialTracker {
	return &PartialTracker{rdb: c.Underlying()}
}

func partialKey(exchange string) string {
	return "partial:" + exchange
}

// Track adds a position ID to the exchange's partial set.
func (pt *PartialTracker) Track(ctx context.Context, exchange, positionID string) error {
	if err := pt.rdb.SAdd(ctx, partialKey(exchange), positionID).Err(); err != nil {
		return fmt.Errorf("redis: track partial %s/%s: %w", exchange, positionID, err)
	}
	return nil
}

// Untrack removes a position ID; removing an absent ID is a no-op.
func (pt *PartialTracker) Untrack(ctx context.Context, exchange, positionID string) error {
	if err := pt.rdb.SRem(ctx, partialKey(exchange), positionID).Err(); err != nil {
		return fmt.Errorf("redis: untrack partial %s/%s: %w", exchange, positionID, err)
	}
	return nil
}

// Tracked lists the partial position IDs for an exchange.
func (pt *PartialTracker) Tracked(ctx context.Context, exchange string) ([]string, error) {
	ids, err := pt.rdb.SMembers(ctx, partialKey(exchange)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list partial %s: %w", exchange, err)
	}
	return ids, nil
}

// SyncClock implements domain.SyncClock on plain string keys holding
// RFC 3339 timestamps.
type SyncClock struct {
	rdb *redis.Client
}

// NewSyncClock creates a SyncClock backed by the given Client.
func NewSyncClock(c *Client) *SyncClock {
	return &SyncClock{rdb: c.Underlying()}
}

func lastSyncKey(exchange string) string {
	return "lastsync:" + exchange
}

// SetLastSync records when the exchange was last synced.
func (sc *SyncClock) SetLastSync(ctx context.Context, exchange string, t time.Time) error {
	if err := sc.rdb.Set(ctx, lastSyncKey(exchange), t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("redis: set last sync %s: %w", exchange, err)
	}
	return nil
}

// LastSync returns the recorded time and whether one exists.
func (sc *SyncClock) LastSync(ctx context.Context, exchange string) (time.Time, bool, error) {
	val, err := sc.rdb.Get(ctx, lastSyncKey(exchange)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: get last sync %s: %w", exchange, err)
	}

	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: parse last sync %s: %w", exchange, err)
	}
	return t, true, nil
}

// Compile-time interface checks.
var (
	_ domain.PartialTracker = (*PartialTracker)(nil)
	_ domain.SyncClock      = (*SyncClock)(nil)
)
