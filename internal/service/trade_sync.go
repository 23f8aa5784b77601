package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradejournal/internal/domain"
)

// pnlTolerance is the threshold below which a PnL difference between a
// stored trade and a fresh position snapshot is considered noise.
var pnlTolerance = decimal.NewFromFloat(0.01)

const (
	defaultStaleThreshold    = 24 * time.Hour
	defaultIncrementalBuffer = 30 * time.Minute
)

// TradeSyncService derives journal trade records from synced positions. It
// always runs the position sync first and converts each resulting position
// into a create, update, or skip against the trade store. User annotations
// on trades are never written here.
type TradeSyncService struct {
	exchanges *ExchangeSyncService
	trades    domain.TradeStore
	states    domain.ExchangeStateStore
	syncLog   domain.SyncLogStore

	staleThreshold    time.Duration
	incrementalBuffer time.Duration
	logger            *slog.Logger
	now               func() time.Time

	// Trade sync windows are process-local: losing them on restart only
	// widens the next incremental filter, which is safe.
	mu        sync.Mutex
	lastSyncs map[string]time.Time
}

// TradeSyncOption customizes a TradeSyncService.
type TradeSyncOption func(*TradeSyncService)

// WithTradeSyncNow overrides the time source, for tests.
func WithTradeSyncNow(now func() time.Time) TradeSyncOption {
	return func(s *TradeSyncService) { s.now = now }
}

// WithStaleThreshold overrides how old a last sync may be before the
// exchange counts as stale in SyncHealth.
func WithStaleThreshold(d time.Duration) TradeSyncOption {
	return func(s *TradeSyncService) { s.staleThreshold = d }
}

// NewTradeSyncService creates a TradeSyncService on top of the exchange sync
// service and the trade store.
func NewTradeSyncService(
	exchanges *ExchangeSyncService,
	trades domain.TradeStore,
	states domain.ExchangeStateStore,
	syncLog domain.SyncLogStore,
	logger *slog.Logger,
	opts ...TradeSyncOption,
) *TradeSyncService {
	s := &TradeSyncService{
		exchanges:         exchanges,
		trades:            trades,
		states:            states,
		syncLog:           syncLog,
		staleThreshold:    defaultStaleThreshold,
		incrementalBuffer: defaultIncrementalBuffer,
		logger:            logger.With(slog.String("component", "trade_sync")),
		now:               time.Now,
		lastSyncs:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncAll synchronizes trades for every active exchange, collecting
// independent results.
func (s *TradeSyncService) SyncAll(ctx context.Context, forceFull bool) map[string]domain.TradeSyncResult {
	names := s.exchanges.ActiveExchanges()
	s.logger.InfoContext(ctx, "starting trade sync for all active exchanges",
		slog.Int("exchanges", len(names)),
		slog.Bool("force_full", forceFull),
	)

	results := make(map[string]domain.TradeSyncResult, len(names))
	for _, name := range names {
		results[name] = s.SyncExchangeTrades(ctx, name, forceFull)
	}
	return results
}

// SyncExchangeTrades runs the position sync for one exchange and reconciles
// the resulting positions into trade records. A failed position sync
// short-circuits the whole run to FAILED.
func (s *TradeSyncService) SyncExchangeTrades(ctx context.Context, name string, forceFull bool) domain.TradeSyncResult {
	name = strings.ToLower(strings.TrimSpace(name))
	startedAt := s.now().UTC()
	result := domain.TradeSyncResult{
		RunID:     uuid.New().String(),
		Exchange:  name,
		Status:    domain.SyncStatusInProgress,
		StartedAt: startedAt,
	}

	s.logger.InfoContext(ctx, "starting trade sync",
		slog.String("exchange", name),
		slog.String("run_id", result.RunID),
	)

	posResult := s.exchanges.SyncExchange(ctx, name, forceFull)
	if !posResult.Successful() {
		finishedAt := s.now().UTC()
		result.Status = domain.SyncStatusFailed
		result.Errors = append(result.Errors, posResult.Errors...)
		result.FinishedAt = &finishedAt
		s.appendLog(ctx, result)
		return result
	}

	byExchange, err := s.exchanges.Positions(ctx, name)
	if err != nil {
		finishedAt := s.now().UTC()
		result.Status = domain.SyncStatusFailed
		result.Errors = append(result.Errors, err.Error())
		result.FinishedAt = &finishedAt
		s.appendLog(ctx, result)
		return result
	}
	positions := byExchange[name]

	if len(positions) == 0 {
		s.logger.InfoContext(ctx, "no positions to process",
			slog.String("exchange", name),
		)
		finishedAt := s.now().UTC()
		result.Status = domain.SyncStatusCompleted
		result.FinishedAt = &finishedAt
		s.setLastSync(name, startedAt)
		s.appendLog(ctx, result)
		return result
	}

	if !forceFull {
		positions = s.filterIncremental(name, positions)
	}
	result.PositionsProcessed = len(positions)

	for _, pos := range positions {
		created, updated, err := s.reconcileTrade(ctx, name, pos)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("position %s: %v", pos.ID, err))
			continue
		}
		switch {
		case created:
			result.TradesCreated++
		case updated:
			result.TradesUpdated++
		default:
			result.TradesSkipped++
		}
	}

	s.setLastSync(name, startedAt)

	finishedAt := s.now().UTC()
	result.Status = domain.SyncStatusCompleted
	if len(result.Errors) > 0 {
		result.Status = domain.SyncStatusPartial
	}
	result.FinishedAt = &finishedAt

	s.appendLog(ctx, result)
	s.logger.InfoContext(ctx, "trade sync completed",
		slog.String("exchange", name),
		slog.String("run_id", result.RunID),
		slog.Int("created", result.TradesCreated),
		slog.Int("updated", result.TradesUpdated),
		slog.Int("skipped", result.TradesSkipped),
		slog.Int("errors", len(result.Errors)),
	)
	return result
}

// ForceResync drops the exchange's incremental window and runs a full trade
// sync from scratch.
func (s *TradeSyncService) ForceResync(ctx context.Context, name string) domain.TradeSyncResult {
	name = strings.ToLower(strings.TrimSpace(name))

	s.mu.Lock()
	delete(s.lastSyncs, name)
	s.mu.Unlock()

	return s.SyncExchangeTrades(ctx, name, true)
}

// LastSyncTime returns when trades for the exchange were last synced.
func (s *TradeSyncService) LastSyncTime(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSyncs[strings.ToLower(name)]
	return t, ok
}

// ExchangeStats summarizes one exchange's trade sync standing.
type ExchangeStats struct {
	TotalTrades  int64      `json:"total_trades"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	SyncAgeHours *float64   `json:"sync_age_hours,omitempty"`
}

// Stats reports per-exchange trade counts and sync recency. An empty name
// covers every active exchange.
func (s *TradeSyncService) Stats(ctx context.Context, name string) (map[string]ExchangeStats, error) {
	names := []string{strings.ToLower(name)}
	if name == "" {
		names = s.exchanges.ActiveExchanges()
	}

	stats := make(map[string]ExchangeStats, len(names))
	for _, ex := range names {
		count, err := s.trades.CountByExchange(ctx, ex)
		if err != nil {
			return nil, fmt.Errorf("trade_sync: count trades for %s: %w", ex, err)
		}

		st := ExchangeStats{TotalTrades: count}
		if last, ok := s.LastSyncTime(ex); ok {
			t := last
			age := s.now().Sub(last).Hours()
			st.LastSyncTime = &t
			st.SyncAgeHours = &age
		}
		stats[ex] = st
	}
	return stats, nil
}

// ExchangeSyncHealth is one exchange's entry in the health report.
type ExchangeSyncHealth struct {
	Status           domain.SyncHealthStatus `json:"status"`
	LastSync         *time.Time              `json:"last_sync,omitempty"`
	ConnectionStatus domain.ConnectionStatus `json:"connection_status"`
	Active           bool                    `json:"active"`
}

// SyncHealthReport aggregates sync freshness across exchanges.
type SyncHealthReport struct {
	TotalExchanges  int                           `json:"total_exchanges"`
	SyncedExchanges int                           `json:"synced_exchanges"`
	StaleExchanges  int                           `json:"stale_exchanges"`
	NeverSynced     int                           `json:"never_synced"`
	Exchanges       map[string]ExchangeSyncHealth `json:"exchanges"`
}

// SyncHealth buckets every active exchange as healthy, stale, or never
// synced by the age of its last trade sync.
func (s *TradeSyncService) SyncHealth(ctx context.Context) SyncHealthReport {
	names := s.exchanges.ActiveExchanges()
	report := SyncHealthReport{
		TotalExchanges: len(names),
		Exchanges:      make(map[string]ExchangeSyncHealth, len(names)),
	}
	now := s.now()

	for _, name := range names {
		entry := ExchangeSyncHealth{
			ConnectionStatus: domain.ConnectionStatusUnknown,
			Active:           true,
		}
		if state, err := s.states.Get(ctx, name); err == nil {
			entry.ConnectionStatus = state.ConnectionStatus
		}

		last, ok := s.LastSyncTime(name)
		switch {
		case !ok:
			report.NeverSynced++
			entry.Status = domain.SyncHealthNeverSynced
		case now.Sub(last) > s.staleThreshold:
			report.StaleExchanges++
			entry.Status = domain.SyncHealthStale
			t := last
			entry.LastSync = &t
		default:
			report.SyncedExchanges++
			entry.Status = domain.SyncHealthHealthy
			t := last
			entry.LastSync = &t
		}

		report.Exchanges[name] = entry
	}
	return report
}

// reconcileTrade applies one position to the trade store and reports whether
// it created or updated a record.
func (s *TradeSyncService) reconcileTrade(ctx context.Context, name string, pos domain.Position) (created, updated bool, err error) {
	id := domain.TradeID(name, pos.Symbol, pos.OpenedAt, pos.Side)

	existing, err := s.trades.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return false, false, fmt.Errorf("get trade: %w", err)
		}
		trade := s.tradeFromPosition(id, name, pos)
		if err := s.trades.Create(ctx, trade); err != nil {
			return false, false, fmt.Errorf("create trade: %w", err)
		}
		return true, false, nil
	}

	if !tradeNeedsUpdate(existing, pos) {
		return false, false, nil
	}

	update := buildTradeUpdate(existing, pos)
	if update.Empty() {
		return false, false, nil
	}
	if err := s.trades.ApplyUpdates(ctx, id, update); err != nil {
		return false, false, fmt.Errorf("update trade: %w", err)
	}
	return false, true, nil
}

// setLastSync records the exchange's trade sync time for the incremental
// filter.
func (s *TradeSyncService) setLastSync(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncs[name] = t
}

// filterIncremental keeps only positions whose close time (or open time for
// still-open positions) falls after the last sync minus a buffer, so
// untouched history is not reprocessed every call.
func (s *TradeSyncService) filterIncremental(name string, positions []domain.Position) []domain.Position {
	last, ok := s.LastSyncTime(name)
	if !ok {
		return positions
	}
	cutoff := last.Add(-s.incrementalBuffer)

	filtered := positions[:0:0]
	for _, pos := range positions {
		if pos.ClosedAt != nil {
			if pos.ClosedAt.After(cutoff) {
				filtered = append(filtered, pos)
			}
			continue
		}
		if pos.OpenedAt.After(cutoff) {
			filtered = append(filtered, pos)
		}
	}

	s.logger.Debug("filtered positions for incremental sync",
		slog.String("exchange", name),
		slog.Int("before", len(positions)),
		slog.Int("after", len(filtered)),
	)
	return filtered
}

// tradeNeedsUpdate reports whether the stored trade diverges from the fresh
// position snapshot on any sync-owned field.
func tradeNeedsUpdate(trade domain.Trade, pos domain.Position) bool {
	expectedStatus := tradeStatusFromPosition(pos.Status)
	if trade.Status != expectedStatus {
		return true
	}

	switch pos.Status {
	case domain.PositionStatusClosed:
		if trade.ExitPrice == nil || trade.ExitTime == nil {
			return true
		}
		if trade.PnL == nil || trade.PnL.Sub(pos.RealizedPnL).Abs().GreaterThan(pnlTolerance) {
			return true
		}
	case domain.PositionStatusOpen:
		if trade.PnL == nil || trade.PnL.Sub(pos.UnrealizedPnL).Abs().GreaterThan(pnlTolerance) {
			return true
		}
	}
	return false
}

// buildTradeUpdate produces the targeted field set for one divergent trade.
// Annotation fields are structurally absent from TradeUpdate, so user data
// cannot be overwritten here.
func buildTradeUpdate(trade domain.Trade, pos domain.Position) domain.TradeUpdate {
	var update domain.TradeUpdate

	expectedStatus := tradeStatusFromPosition(pos.Status)
	if trade.Status != expectedStatus {
		update.Status = &expectedStatus
	}

	switch pos.Status {
	case domain.PositionStatusClosed:
		if trade.ExitPrice == nil {
			price := closePrice(pos)
			update.ExitPrice = &price
		}
		if trade.ExitTime == nil && pos.ClosedAt != nil {
			t := *pos.ClosedAt
			update.ExitTime = &t
		}
		pnl := pos.RealizedPnL
		update.PnL = &pnl
		wl := domain.ClassifyPnL(pnl)
		update.WinLoss = &wl
	case domain.PositionStatusOpen:
		pnl := pos.UnrealizedPnL
		update.PnL = &pnl
	}

	return update
}

// tradeFromPosition builds a fresh trade record. Annotations start empty and
// belong to the user from then on.
func (s *TradeSyncService) tradeFromPosition(id, name string, pos domain.Position) domain.Trade {
	trade := domain.Trade{
		ID:           id,
		Exchange:     name,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		EntryPrice:   pos.EntryPrice,
		Quantity:     pos.Size,
		EntryTime:    pos.OpenedAt,
		Status:       tradeStatusFromPosition(pos.Status),
		Confluences:  []string{},
		CustomFields: map[string]any{},
	}

	if pos.Status == domain.PositionStatusClosed {
		price := closePrice(pos)
		trade.ExitPrice = &price
		if pos.ClosedAt != nil {
			t := *pos.ClosedAt
			trade.ExitTime = &t
		}
		pnl := pos.RealizedPnL
		trade.PnL = &pnl
		wl := domain.ClassifyPnL(pnl)
		trade.WinLoss = &wl
	} else {
		pnl := pos.UnrealizedPnL
		trade.PnL = &pnl
	}

	return trade
}

func tradeStatusFromPosition(status domain.PositionStatus) domain.TradeStatus {
	switch status {
	case domain.PositionStatusPartiallyClosed:
		return domain.TradeStatusPartiallyClosed
	case domain.PositionStatusClosed:
		return domain.TradeStatusClosed
	default:
		return domain.TradeStatusOpen
	}
}

// closePrice prefers the exchange-reported close price from the raw payload
// and falls back to the last mark price.
func closePrice(pos domain.Position) decimal.Decimal {
	if raw, ok := pos.Raw["close_price"]; ok {
		if d, ok := rawDecimal(raw); ok {
			return d
		}
	}
	return pos.MarkPrice
}

func rawDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

func (s *TradeSyncService) appendLog(ctx context.Context, result domain.TradeSyncResult) {
	finishedAt := s.now().UTC()
	if result.FinishedAt != nil {
		finishedAt = *result.FinishedAt
	}
	entry := domain.SyncLogEntry{
		RunID:      result.RunID,
		Exchange:   result.Exchange,
		Kind:       "trades",
		Status:     result.Status,
		Fetched:    result.PositionsProcessed,
		Added:      result.TradesCreated,
		Updated:    result.TradesUpdated,
		Skipped:    result.TradesSkipped,
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
