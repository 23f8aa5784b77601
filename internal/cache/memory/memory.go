// Package memory provides in-process implementations of the cache and lock
// interfaces in domain. They are used when Redis is not configured and by
// the service tests. State does not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"tradejournal/internal/domain"
)

// PositionCache is an in-memory domain.PositionCache.
type PositionCache struct {
	mu        sync.RWMutex
	positions map[string]map[string]domain.Position
}

// NewPositionCache creates an empty PositionCache.
func NewPositionCache() *PositionCache {
	return &PositionCache{positions: make(map[string]map[string]domain.Position)}
}

func (pc *PositionCache) Put(_ context.Context, pos domain.Position) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	byID, ok := pc.positions[pos.Exchange]
	if !ok {
		byID = make(map[string]domain.Position)
		pc.positions[pos.Exchange] = byID
	}
	byID[pos.ID] = pos
	return nil
}

func (pc *PositionCache) Get(_ context.Context, exchange, positionID string) (domain.Position, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	pos, ok := pc.positions[exchange][positionID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// Snapshot returns a copy of the exchange's positions. Mutating the result
// does not affect the cache.
func (pc *PositionCache) Snapshot(_ context.Context, exchange string) (map[string]domain.Position, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	out := make(map[string]domain.Position, len(pc.positions[exchange]))
	for id, pos := range pc.positions[exchange] {
		out[id] = pos
	}
	return out, nil
}

func (pc *PositionCache) Exchanges(_ context.Context) ([]string, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	out := make([]string, 0, len(pc.positions))
	for ex := range pc.positions {
		out = append(out, ex)
	}
	return out, nil
}

// PartialTracker is an in-memory domain.PartialTracker.
type PartialTracker struct {
	mu      sync.Mutex
	partial map[string]map[string]struct{}
}

// NewPartialTracker creates an empty PartialTracker.
func NewPartialTracker() *PartialTracker {
	return &PartialTracker{partial: make(map[string]map[string]struct{})}
}

func (pt *PartialTracker) Track(_ context.Context, exchange, positionID string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	ids, ok := pt.partial[exchange]
	if !ok {
		ids = make(map[string]struct{})
		pt.partial[exchange] = ids
	}
	ids[positionID] = struct{}{}
	return nil
}

func (pt *PartialTracker) Untrack(_ context.Context, exchange, positionID string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	delete(pt.partial[exchange], positionID)
	return nil
}

func (pt *PartialTracker) Tracked(_ context.Context, exchange string) ([]string, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	out := make([]string, 0, len(pt.partial[exchange]))
	for id := range pt.partial[exchange] {
		out = append(out, id)
	}
	return out, nil
}

// SyncClock is an in-memory domain.SyncClock.
type SyncClock struct {
	mu       sync.RWMutex
	lastSync map[string]time.Time
}

// NewSyncClock creates an empty SyncClock.
func NewSyncClock() *SyncClock {
	return &SyncClock{lastSync: make(map[string]time.Time)}
}

func (sc *SyncClock) SetLastSync(_ context.Context, exchange string, t time.Time) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.lastSync[exchange] = t
	return nil
}

func (sc *SyncClock) LastSync(_ context.Context, exchange string) (time.Time, bool, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	t, ok := sc.lastSync[exchange]
	return t, ok, nil
}

// LockManager is an in-memory domain.LockManager. TTLs are honored lazily:
// an expired lock is reclaimable on the next Acquire.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]time.Time), clock: time.Now}
}

func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock()
	if exp, ok := lm.held[key]; ok && now.Before(exp) {
		return nil, domain.ErrLockHeld
	}
	lm.held[key] = now.Add(ttl)

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.held, key)
	}
	return unlock, nil
}

// Compile-time interface checks.
var (
	_ domain.PositionCache  = (*PositionCache)(nil)
	_ domain.PartialTracker = (*PartialTracker)(nil)
	_ domain.SyncClock      = (*SyncClock)(nil)
	_ domain.LockManager    = (*LockManager)(nil)
)
