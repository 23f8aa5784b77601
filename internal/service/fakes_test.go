package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradejournal/internal/cache/memory"
	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
	"tradejournal/internal/ratelimit"
)

// fakeClient is a scripted exchange.Client. It records the arguments of every
// PositionHistory call so tests can assert on the resolved sync window.
type fakeClient struct {
	mu         sync.Mutex
	history    []domain.Position
	historyErr error
	byID       map[string]domain.Position

	gotSince []time.Time
	gotLimit []int
	closed   bool
}

func (c *fakeClient) Name() string                         { return "bitunix" }
func (c *fakeClient) TestConnection(context.Context) error { return nil }
func (c *fakeClient) Authenticate(context.Context) error   { return nil }
func (c *fakeClient) Authenticated() bool                  { return true }

func (c *fakeClient) PositionHistory(_ context.Context, since time.Time, limit int) ([]domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gotSince = append(c.gotSince, since)
	c.gotLimit = append(c.gotLimit, limit)
	if c.historyErr != nil {
		return nil, c.historyErr
	}
	out := make([]domain.Position, len(c.history))
	copy(out, c.history)
	return out, nil
}

func (c *fakeClient) PositionByID(_ context.Context, positionID string) (domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.byID[positionID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]domain.ExchangeState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]domain.ExchangeState)}
}

func (s *fakeStateStore) Upsert(_ context.Context, state domain.ExchangeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Exchange] = state
	return nil
}

func (s *fakeStateStore) Get(_ context.Context, exchange string) (domain.ExchangeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[exchange]
	if !ok {
		return domain.ExchangeState{}, domain.ErrNotFound
	}
	return state, nil
}

func (s *fakeStateStore) List(_ context.Context) ([]domain.ExchangeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExchangeState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state)
	}
	return out, nil
}

type fakeSyncLog struct {
	mu      sync.Mutex
	entries []domain.SyncLogEntry
}

func (l *fakeSyncLog) Append(_ context.Context, entry domain.SyncLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *fakeSyncLog) ListRecent(_ context.Context, exchange string, limit int) ([]domain.SyncLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.SyncLogEntry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if exchange == "" || l.entries[i].Exchange == exchange {
			out = append(out, l.entries[i])
		}
	}
	return out, nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[string]domain.Trade)}
}

func (s *fakeTradeStore) Create(_ context.Context, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.trades[trade.ID] = trade
	return nil
}

func (s *fakeTradeStore) ApplyUpdates(_ context.Context, id string, update domain.TradeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	if update.Status != nil {
		trade.Status = *update.Status
	}
	if update.ExitPrice != nil {
		trade.ExitPrice = update.ExitPrice
	}
	if update.ExitTime != nil {
		trade.ExitTime = update.ExitTime
	}
	if update.PnL != nil {
		trade.PnL = update.PnL
	}
	if update.WinLoss != nil {
		trade.WinLoss = update.WinLoss
	}
	s.trades[id] = trade
	return nil
}

func (s *fakeTradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return trade, nil
}

func (s *fakeTradeStore) ListByExchange(_ context.Context, exchange string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, trade := range s.trades {
		if trade.Exchange == exchange {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) CountByExchange(_ context.Context, exchange string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, trade := range s.trades {
		if trade.Exchange == exchange {
			n++
		}
	}
	return n, nil
}

func (s *fakeTradeStore) SetConfluences(_ context.Context, id string, confluences []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	trade.Confluences = confluences
	s.trades[id] = trade
	return nil
}

func (s *fakeTradeStore) SetCustomField(_ context.Context, id string, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	if trade.CustomFields == nil {
		trade.CustomFields = make(map[string]any)
	}
	trade.CustomFields[name] = value
	s.trades[id] = trade
	return nil
}

// syncHarness wires an ExchangeSyncService over in-memory caches and fakes.
// The time source is mutable through the now field.
type syncHarness struct {
	client    *fakeClient
	registry  *exchange.Registry
	positions *memory.PositionCache
	partials  *memory.PartialTracker
	clock     *memory.SyncClock
	locks     *memory.LockManager
	states    *fakeStateStore
	syncLog   *fakeSyncLog

	now time.Time
	svc *ExchangeSyncService
}

func newSyncHarness(t *testing.T, opts ...ExchangeSyncOption) *syncHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &syncHarness{
		client:    &fakeClient{byID: make(map[string]domain.Position)},
		registry:  exchange.NewRegistry(logger),
		positions: memory.NewPositionCache(),
		partials:  memory.NewPartialTracker(),
		clock:     memory.NewSyncClock(),
		locks:     memory.NewLockManager(),
		states:    newFakeStateStore(),
		syncLog:   &fakeSyncLog{},
		now:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, h.registry.Register(exchange.Descriptor{
		Name: "bitunix",
		DefaultRateLimits: ratelimit.Config{
			RequestsPerSecond: 1000,
			RequestsPerMinute: 10000,
			RequestsPerHour:   100000,
		},
		New: func(exchange.Credentials, ratelimit.Config) (exchange.Client, error) {
			return h.client, nil
		},
	}))

	settings := map[string]ExchangeSettings{
		"bitunix": {
			Credentials: exchange.Credentials{APIKey: "key", APISecret: "secret"},
			Active:      true,
		},
	}

	allOpts := append([]ExchangeSyncOption{
		WithSyncNow(func() time.Time { return h.now }),
	}, opts...)
	h.svc = NewExchangeSyncService(
		h.registry, settings,
		h.positions, h.partials, h.clock, h.locks,
		h.states, h.syncLog,
		logger,
		allOpts...,
	)
	return h
}

func openPosition(id, symbol string) domain.Position {
	return domain.Position{
		ID:            id,
		Symbol:        symbol,
		Side:          domain.PositionSideLong,
		Size:          decimal.NewFromInt(1),
		EntryPrice:    decimal.NewFromInt(50000),
		MarkPrice:     decimal.NewFromInt(50500),
		UnrealizedPnL: decimal.NewFromInt(500),
		Status:        domain.PositionStatusOpen,
		OpenedAt:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func closedPosition(id, symbol string) domain.Position {
	// Within the incremental buffer of the harness clock (12:00 minus 30m).
	closedAt := time.Date(2026, 3, 14, 11, 45, 0, 0, time.UTC)
	pos := openPosition(id, symbol)
	pos.Status = domain.PositionStatusClosed
	pos.UnrealizedPnL = decimal.Zero
	pos.RealizedPnL = decimal.NewFromInt(500)
	pos.ClosedAt = &closedAt
	return pos
}

func partialPosition(id, symbol string) domain.Position {
	pos := openPosition(id, symbol)
	pos.Status = domain.PositionStatusPartiallyClosed
	pos.RealizedPnL = decimal.NewFromInt(200)
	return pos
}
