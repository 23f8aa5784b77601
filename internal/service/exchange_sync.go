// Package service implements the synchronization pipeline: pulling position
// snapshots from exchanges, reconciling them against the local cache, and
// deriving journal trade records.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
	"tradejournal/internal/ratelimit"
)

// ExchangeSettings is the static per-exchange configuration handed to the
// sync services at startup. Credentials never leave the process.
type ExchangeSettings struct {
	Credentials exchange.Credentials
	Active      bool
	RateLimits  ratelimit.Config
}

// SyncWindows controls how the incremental sync window is resolved.
type SyncWindows struct {
	// Overlap is subtracted from the last sync time so updates landing near
	// the boundary are not missed.
	Overlap time.Duration

	// Bootstrap is how far back the first-ever sync of an exchange reaches.
	Bootstrap time.Duration
}

// DefaultSyncWindows returns the standard window settings: one hour of
// overlap and a thirty day bootstrap.
func DefaultSyncWindows() SyncWindows {
	return SyncWindows{
		Overlap:   time.Hour,
		Bootstrap: 30 * 24 * time.Hour,
	}
}

const defaultLockTTL = 5 * time.Minute

// ExchangeSyncService reconciles remote position snapshots against the local
// position cache, tracks partially closed positions for follow-up polling,
// and records per-exchange connection state.
type ExchangeSyncService struct {
	registry *exchange.Registry
	settings map[string]ExchangeSettings

	positions domain.PositionCache
	partials  domain.PartialTracker
	clock     domain.SyncClock
	locks     domain.LockManager
	states    domain.ExchangeStateStore
	syncLog   domain.SyncLogStore
	archiver  domain.BlobWriter // optional, best effort

	windows SyncWindows
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// ExchangeSyncOption customizes an ExchangeSyncService.
type ExchangeSyncOption func(*ExchangeSyncService)

// WithArchiver enables raw payload archiving to object storage.
func WithArchiver(w domain.BlobWriter) ExchangeSyncOption {
	return func(s *ExchangeSyncService) { s.archiver = w }
}

// WithSyncWindows overrides the default sync window settings.
func WithSyncWindows(w SyncWindows) ExchangeSyncOption {
	return func(s *ExchangeSyncService) { s.windows = w }
}

// WithSyncNow overrides the time source, for tests.
func WithSyncNow(now func() time.Time) ExchangeSyncOption {
	return func(s *ExchangeSyncService) { s.now = now }
}

// NewExchangeSyncService creates an ExchangeSyncService. The settings map is
// keyed by exchange name; keys are normalized to lowercase.
func NewExchangeSyncService(
	registry *exchange.Registry,
	settings map[string]ExchangeSettings,
	positions domain.PositionCache,
	partials domain.PartialTracker,
	clock domain.SyncClock,
	locks domain.LockManager,
	states domain.ExchangeStateStore,
	syncLog domain.SyncLogStore,
	logger *slog.Logger,
	opts ...ExchangeSyncOption,
) *ExchangeSyncService {
	normalized := make(map[string]ExchangeSettings, len(settings))
	for name, cfg := range settings {
		normalized[strings.ToLower(strings.TrimSpace(name))] = cfg
	}

	s := &ExchangeSyncService{
		registry:  registry,
		settings:  normalized,
		positions: positions,
		partials:  partials,
		clock:     clock,
		locks:     locks,
		states:    states,
		syncLog:   syncLog,
		windows:   DefaultSyncWindows(),
		lockTTL:   defaultLockTTL,
		logger:    logger.With(slog.String("component", "exchange_sync")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveExchanges returns the names of configured, active exchanges in
// stable order.
func (s *ExchangeSyncService) ActiveExchanges() []string {
	var names []string
	for name, cfg := range s.settings {
		if cfg.Active {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Settings returns the static configuration for one exchange.
func (s *ExchangeSyncService) Settings(name string) (ExchangeSettings, bool) {
	cfg, ok := s.settings[strings.ToLower(name)]
	return cfg, ok
}

// SyncAll synchronizes every active exchange independently. A failure on one
// exchange never aborts the others; each result stands alone.
func (s *ExchangeSyncService) SyncAll(ctx context.Context, forceFull bool) map[string]domain.SyncResult {
	names := s.ActiveExchanges()
	s.logger.InfoContext(ctx, "starting sync for all active exchanges",
		slog.Int("exchanges", len(names)),
		slog.Bool("force_full", forceFull),
	)

	results := make(map[string]domain.SyncResult, len(names))
	for _, name := range names {
		results[name] = s.SyncExchange(ctx, name, forceFull)
	}
	return results
}

// SyncExchange runs one full reconciliation pass against an exchange. It is
// a single attempt: errors are classified into the returned result, never
// propagated, and the caller decides whether to re-invoke.
func (s *ExchangeSyncService) SyncExchange(ctx context.Context, name string, forceFull bool) domain.SyncResult {
	name = strings.ToLower(strings.TrimSpace(name))
	startedAt := s.now().UTC()
	result := domain.SyncResult{
		RunID:     uuid.New().String(),
		Exchange:  name,
		Status:    domain.SyncStatusInProgress,
		StartedAt: startedAt,
	}

	unlock, err := s.locks.Acquire(ctx, "sync:"+name, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return s.failSync(ctx, result, fmt.Errorf("sync already in progress for %s", name), false)
		}
		return s.failSync(ctx, result, fmt.Errorf("acquire sync lock: %w", err), false)
	}
	defer unlock()

	s.logger.InfoContext(ctx, "starting sync",
		slog.String("exchange", name),
		slog.String("run_id", result.RunID),
		slog.Bool("force_full", forceFull),
	)

	cfg, ok := s.settings[name]
	if !ok {
		return s.failSync(ctx, result, fmt.Errorf("no configuration found for exchange: %s", name), false)
	}
	if !cfg.Active {
		return s.failSync(ctx, result, fmt.Errorf("exchange %s: %w", name, domain.ErrExchangeInactive), false)
	}

	client, err := s.registry.GetOrCreateClient(name, cfg.Credentials, cfg.RateLimits)
	if err != nil {
		return s.failSync(ctx, result, err, false)
	}

	since := s.syncWindow(ctx, name, forceFull)
	s.logger.InfoContext(ctx, "fetching positions",
		slog.String("exchange", name),
		slog.Time("since", since),
	)

	remote, err := client.PositionHistory(ctx, since, 0)
	if err != nil {
		return s.failSync(ctx, result, err, true)
	}
	result.PositionsFetched = len(remote)

	s.archiveRaw(ctx, name, result.RunID, startedAt, remote)

	// Snapshot once at sync start so reconciliation never reads its own
	// writes within one run.
	local, err := s.positions.Snapshot(ctx, name)
	if err != nil {
		return s.failSync(ctx, result, fmt.Errorf("snapshot position cache: %w", err), false)
	}

	for _, pos := range remote {
		pos.Exchange = name
		action := reconcileAction(local, pos)

		switch action {
		case reconcileAdd:
			if err := s.positions.Put(ctx, pos); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("store position %s: %v", pos.ID, err))
				continue
			}
			result.PositionsAdded++
		case reconcileUpdate:
			if err := s.positions.Put(ctx, pos); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("store position %s: %v", pos.ID, err))
				continue
			}
			result.PositionsUpdated++
		case reconcileSkip:
			result.PositionsSkipped++
		}

		if pos.IsPartiallyClosed() {
			if err := s.partials.Track(ctx, name, pos.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("track partial %s: %v", pos.ID, err))
			}
		}
	}

	if err := s.clock.SetLastSync(ctx, name, startedAt); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("record last sync time: %v", err))
	}
	s.persistState(ctx, name, domain.ConnectionStatusConnected, &startedAt)

	finishedAt := s.now().UTC()
	result.Status = domain.SyncStatusCompleted
	if len(result.Errors) > 0 {
		result.Status = domain.SyncStatusPartial
	}
	result.FinishedAt = &finishedAt
	result.LastSyncTime = &startedAt

	s.appendLog(ctx, result, "positions")
	s.logger.InfoContext(ctx, "sync completed",
		slog.String("exchange", name),
		slog.String("run_id", result.RunID),
		slog.Int("added", result.PositionsAdded),
		slog.Int("updated", result.PositionsUpdated),
		slog.Int("skipped", result.PositionsSkipped),
	)
	return result
}

// SyncPartialPositions refetches only the positions previously flagged as
// partially closed, one request per ID. IDs that come back fully closed are
// removed from tracking.
func (s *ExchangeSyncService) SyncPartialPositions(ctx context.Context, name string) domain.SyncResult {
	name = strings.ToLower(strings.TrimSpace(name))
	startedAt := s.now().UTC()
	result := domain.SyncResult{
		RunID:     uuid.New().String(),
		Exchange:  name,
		Status:    domain.SyncStatusInProgress,
		StartedAt: startedAt,
	}

	ids, err := s.partials.Tracked(ctx, name)
	if err != nil {
		return s.failSync(ctx, result, fmt.Errorf("list partial positions: %w", err), false)
	}
	if len(ids) == 0 {
		finishedAt := s.now().UTC()
		result.Status = domain.SyncStatusCompleted
		result.FinishedAt = &finishedAt
		return result
	}

	s.logger.InfoContext(ctx, "syncing partial positions",
		slog.String("exchange", name),
		slog.Int("tracked", len(ids)),
	)

	cfg, ok := s.settings[name]
	if !ok {
		return s.failSync(ctx, result, fmt.Errorf("no configuration found for exchange: %s", name), false)
	}

	client, err := s.registry.GetOrCreateClient(name, cfg.Credentials, cfg.RateLimits)
	if err != nil {
		return s.failSync(ctx, result, err, false)
	}

	var closed int
	for _, id := range ids {
		pos, err := client.PositionByID(ctx, id)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("fetch position %s: %v", id, err))
			continue
		}
		result.PositionsFetched++

		pos.Exchange = name
		if err := s.positions.Put(ctx, pos); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("store position %s: %v", id, err))
			continue
		}
		result.PositionsUpdated++

		if pos.IsClosed() {
			if err := s.partials.Untrack(ctx, name, id); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("untrack position %s: %v", id, err))
				continue
			}
			closed++
		}
	}

	finishedAt := s.now().UTC()
	result.Status = domain.SyncStatusCompleted
	if len(result.Errors) > 0 {
		result.Status = domain.SyncStatusPartial
	}
	result.FinishedAt = &finishedAt

	s.appendLog(ctx, result, "positions")
	s.logger.InfoContext(ctx, "partial sync completed",
		slog.String("exchange", name),
		slog.Int("updated", result.PositionsUpdated),
		slog.Int("fully_closed", closed),
	)
	return result
}

// Positions returns the cached positions, keyed by exchange. An empty
// exchange name returns every exchange.
func (s *ExchangeSyncService) Positions(ctx context.Context, exchangeName string) (map[string][]domain.Position, error) {
	names := []string{strings.ToLower(exchangeName)}
	if exchangeName == "" {
		var err error
		names, err = s.positions.Exchanges(ctx)
		if err != nil {
			return nil, fmt.Errorf("exchange_sync: list cached exchanges: %w", err)
		}
	}

	out := make(map[string][]domain.Position, len(names))
	for _, name := range names {
		snapshot, err := s.positions.Snapshot(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("exchange_sync: snapshot %s: %w", name, err)
		}
		positions := make([]domain.Position, 0, len(snapshot))
		for _, pos := range snapshot {
			positions = append(positions, pos)
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
		out[name] = positions
	}
	return out, nil
}

// PositionByID returns one cached position, or domain.ErrNotFound.
func (s *ExchangeSyncService) PositionByID(ctx context.Context, exchangeName, positionID string) (domain.Position, error) {
	return s.positions.Get(ctx, strings.ToLower(exchangeName), positionID)
}

// PartialPositions returns the cached positions currently flagged as
// partially closed, keyed by exchange.
func (s *ExchangeSyncService) PartialPositions(ctx context.Context, exchangeName string) (map[string][]domain.Position, error) {
	names := []string{strings.ToLower(exchangeName)}
	if exchangeName == "" {
		var err error
		names, err = s.positions.Exchanges(ctx)
		if err != nil {
			return nil, fmt.Errorf("exchange_sync: list cached exchanges: %w", err)
		}
	}

	out := make(map[string][]domain.Position)
	for _, name := range names {
		ids, err := s.partials.Tracked(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("exchange_sync: list partials %s: %w", name, err)
		}

		var positions []domain.Position
		for _, id := range ids {
			pos, err := s.positions.Get(ctx, name, id)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("exchange_sync: get position %s: %w", id, err)
			}
			positions = append(positions, pos)
		}
		if len(positions) > 0 {
			sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
			out[name] = positions
		}
	}
	return out, nil
}

// ExchangeStates returns the persisted runtime state of every exchange.
func (s *ExchangeSyncService) ExchangeStates(ctx context.Context) ([]domain.ExchangeState, error) {
	return s.states.List(ctx)
}

// syncWindow resolves the lower time bound for a position fetch. forceFull
// means everything; otherwise the last sync time minus the overlap buffer,
// or the bootstrap window when the exchange has never synced.
func (s *ExchangeSyncService) syncWindow(ctx context.Context, name string, forceFull bool) time.Time {
	if forceFull {
		return time.Time{}
	}

	last, ok, err := s.clock.LastSync(ctx, name)
	if err != nil {
		s.logger.WarnContext(ctx, "reading last sync time failed, using bootstrap window",
			slog.String("exchange", name),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return last.Add(-s.windows.Overlap)
	}
	return s.now().UTC().Add(-s.windows.Bootstrap)
}

type reconcileResult int

const (
	reconcileAdd reconcileResult = iota
	reconcileUpdate
	reconcileSkip
)

// reconcileAction decides what to do with one remote position given the
// local snapshot taken at sync start.
func reconcileAction(local map[string]domain.Position, remote domain.Position) reconcileResult {
	existing, ok := local[remote.ID]
	if !ok {
		return reconcileAdd
	}
	if positionNeedsUpdate(existing, remote) {
		return reconcileUpdate
	}
	return reconcileSkip
}

// positionNeedsUpdate is a field-level dirty check over the snapshot fields
// that can legitimately change between fetches. The exchange is the sole
// source of truth, so no version or sequence scheme is needed.
func positionNeedsUpdate(local, remote domain.Position) bool {
	if local.Status != remote.Status {
		return true
	}
	if !local.MarkPrice.Equal(remote.MarkPrice) {
		return true
	}
	if !local.UnrealizedPnL.Equal(remote.UnrealizedPnL) {
		return true
	}
	if !local.RealizedPnL.Equal(remote.RealizedPnL) {
		return true
	}
	return !equalTimePtr(local.ClosedAt, remote.ClosedAt)
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// failSync classifies err into a FAILED result. flipState additionally
// records an ERROR connection status; only exchange API failures do that,
// matching the distinction between "could not talk to the exchange" and
// "sync was misconfigured or busy".
func (s *ExchangeSyncService) failSync(ctx context.Context, result domain.SyncResult, err error, flipState bool) domain.SyncResult {
	msg := err.Error()
	if isExchangeAPIError(err) {
		msg = "exchange api error: " + msg
	}

	finishedAt := s.now().UTC()
	result.Status = domain.SyncStatusFailed
	result.Errors = append(result.Errors, msg)
	result.FinishedAt = &finishedAt

	if flipState {
		s.persistState(ctx, result.Exchange, domain.ConnectionStatusError, nil)
	}

	s.appendLog(ctx, result, "positions")
	s.logger.ErrorContext(ctx, "sync failed",
		slog.String("exchange", result.Exchange),
		slog.String("run_id", result.RunID),
		slog.String("error", msg),
	)
	return result
}

func isExchangeAPIError(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrNetwork) ||
		errors.Is(err, domain.ErrBadResponse)
}

// persistState upserts the exchange's connection status; lastSync may be nil
// to leave the previous value standing on the next read path.
func (s *ExchangeSyncService) persistState(ctx context.Context, name string, status domain.ConnectionStatus, lastSync *time.Time) {
	state := domain.ExchangeState{
		Exchange:         name,
		ConnectionStatus: status,
		LastSyncAt:       lastSync,
	}
	if lastSync == nil {
		if prev, err := s.states.Get(ctx, name); err == nil {
			state.LastSyncAt = prev.LastSyncAt
		}
	}
	if err := s.states.Upsert(ctx, state); err != nil {
		s.logger.WarnContext(ctx, "persisting exchange state failed",
			slog.String("exchange", name),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ExchangeSyncService) appendLog(ctx context.Context, result domain.SyncResult, kind string) {
	finishedAt := s.now().UTC()
	if result.FinishedAt != nil {
		finishedAt = *result.FinishedAt
	}
	entry := domain.SyncLogEntry{
		RunID:      result.RunID,
		Exchange:   result.Exchange,
		Kind:       kind,
		Status:     result.Status,
		Fetched:    result.PositionsFetched,
		Added:      result.PositionsAdded,
		Updated:    result.PositionsUpdated,
		Skipped:    result.PositionsSkipped,
		Errors:     result.Errors,
		StartedAt:  result.StartedAt,
		FinishedAt: finishedAt,
	}
	if err := s.syncLog.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "appending sync log failed",
			slog.String("run_id", result.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// archiveRaw stores the fetched snapshot batch in object storage for later
// inspection. Best effort, never fails the sync.
func (s *ExchangeSyncService) archiveRaw(ctx context.Context, name, runID string, at time.Time, positions []domain.Position) {
	if s.archiver == nil || len(positions) == 0 {
		return
	}

	payload, err := json.Marshal(positions)
	if err != nil {
		s.logger.WarnContext(ctx, "encoding raw snapshot failed",
			slog.String("exchange", name),
			slog.String("error", err.Error()),
		)
		return
	}

	key := fmt.Sprintf("raw/%s/%s/%s.json", name, at.Format("2006-01-02"), runID)
	if err := s.archiver.Write(ctx, key, payload, "application/json"); err != nil {
		s.logger.WarnContext(ctx, "archiving raw snapshot failed",
			slog.String("exchange", name),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
