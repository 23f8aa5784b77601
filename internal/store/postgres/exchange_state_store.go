package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradejournal/internal/domain"
)

// ExchangeStateStore implements domain.ExchangeStateStore using PostgreSQL.
type ExchangeStateStore struct {
	pool *pgxpool.Pool
}

// NewExchangeStateStore creates an ExchangeStateStore backed by the given pool.
func NewExchangeStateStore(pool *pgxpool.Pool) *ExchangeStateStore {
	return &ExchangeStateStore{pool: pool}
}

// Upsert writes the exchange's runtime state, inserting on first sight.
func (s *ExchangeStateStore) Upsert(ctx context.Context, state domain.ExchangeState) error {
	const query = `
		INSERT INTO exchange_state (exchange, connection_status, last_sync_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (exchange) DO UPDATE SET
			connection_status = EXCLUDED.connection_status,
			last_sync_at = EXCLUDED.last_sync_at,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query, state.Exchange, state.ConnectionStatus, state.LastSyncAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert exchange state %s: %w", state.Exchange, err)
	}
	return nil
}

// Get returns the state for one exchange, or domain.ErrNotFound.
func (s *ExchangeStateStore) Get(ctx context.Context, exchange string) (domain.ExchangeState, error) {
	const query = `
		SELECT exchange, connection_status, last_sync_at, updated_at
		FROM exchange_state WHERE exchange = $1`

	var st domain.ExchangeState
	err := s.pool.QueryRow(ctx, query, exchange).Scan(
		&st.Exchange, &st.ConnectionStatus, &st.LastSyncAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExchangeState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ExchangeState{}, fmt.Errorf("postgres: get exchange state %s: %w", exchange, err)
	}
	return st, nil
}

// List returns the state of every known exchange.
func (s *ExchangeStateStore) List(ctx context.Context) ([]domain.ExchangeState, error) {
	const query = `
		SELECT exchange, connection_status, last_sync_at, updated_at
		FROM exchange_state ORDER BY exchange`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exchange state: %w", err)
	}
	defer rows.Close()

	var states []domain.ExchangeState
	for rows.Next() {
		var st domain.ExchangeState
		if err := rows.Scan(&st.Exchange, &st.ConnectionStatus, &st.LastSyncAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan exchange state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

var _ domain.ExchangeStateStore = (*ExchangeStateStore)(nil)
