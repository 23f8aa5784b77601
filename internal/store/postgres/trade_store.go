package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradejournal/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, exchange, symbol, side, entry_price, quantity,
	entry_time, status, exit_price, exit_time, pnl, win_loss,
	confluences, custom_fields, created_at, updated_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t      domain.Trade
		custom []byte
	)
	err := row.Scan(
		&t.ID, &t.Exchange, &t.Symbol, &t.Side, &t.EntryPrice, &t.Quantity,
		&t.EntryTime, &t.Status, &t.ExitPrice, &t.ExitTime, &t.PnL, &t.WinLoss,
		&t.Confluences, &custom, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &t.CustomFields); err != nil {
			return domain.Trade{}, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	if t.CustomFields == nil {
		t.CustomFields = map[string]any{}
	}
	if t.Confluences == nil {
		t.Confluences = []string{}
	}
	return t, nil
}

// Create inserts a new trade. Returns domain.ErrAlreadyExists when a trade
// with the same deterministic ID is already present.
func (s *TradeStore) Create(ctx context.Context, trade domain.Trade) error {
	custom, err := json.Marshal(trade.CustomFields)
	if err != nil {
		return fmt.Errorf("postgres: encode custom fields: %w", err)
	}
	if trade.Confluences == nil {
		trade.Confluences = []string{}
	}

	const query = `
		INSERT INTO trades (
			id, exchange, symbol, side, entry_price, quantity,
			entry_time, status, exit_price, exit_time, pnl, win_loss,
			confluences, custom_fields
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14
		)`
	_, err = s.pool.Exec(ctx, query,
		trade.ID, trade.Exchange, trade.Symbol, trade.Side,
		trade.EntryPrice, trade.Quantity, trade.EntryTime, trade.Status,
		trade.ExitPrice, trade.ExitTime, trade.PnL, trade.WinLoss,
		trade.Confluences, custom,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create trade %s: %w", trade.ID, err)
	}
	return nil
}

// ApplyUpdates writes the non-nil fields of update to the trade and bumps
// updated_at. Annotation columns are never touched here.
func (s *TradeStore) ApplyUpdates(ctx context.Context, id string, update domain.TradeUpdate) error {
	if update.Empty() {
		return nil
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	argIdx := 2

	addSet := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, val)
		argIdx++
	}
	if update.Status != nil {
		addSet("status", *update.Status)
	}
	if update.ExitPrice != nil {
		addSet("exit_price", *update.ExitPrice)
	}
	if update.ExitTime != nil {
		addSet("exit_time", *update.ExitTime)
	}
	if update.PnL != nil {
		addSet("pnl", *update.PnL)
	}
	if update.WinLoss != nil {
		addSet("win_loss", *update.WinLoss)
	}

	query := "UPDATE trades SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns the trade with the given ID, or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE id = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListByExchange returns trades for an exchange with pagination and optional
// entry time filtering, newest first.
func (s *TradeStore) ListByExchange(ctx context.Context, exchange string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE exchange = $1`
	args := []any{exchange}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND entry_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND entry_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY entry_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", exchange, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trades for %s: %w", exchange, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", exchange, err)
	}
	return trades, nil
}

// CountByExchange returns the number of trades recorded for an exchange.
func (s *TradeStore) CountByExchange(ctx context.Context, exchange string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM trades WHERE exchange = $1", exchange).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trades for %s: %w", exchange, err)
	}
	return n, nil
}

// SetConfluences replaces the trade's confluence tags. User-facing API path
// only; sync never calls this.
func (s *TradeStore) SetConfluences(ctx context.Context, id string, confluences []string) error {
	if confluences == nil {
		confluences = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE trades SET confluences = $2, updated_at = NOW() WHERE id = $1",
		id, confluences)
	if err != nil {
		return fmt.Errorf("postgres: set confluences on %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetCustomField sets one key in the trade's custom fields. User-facing API
// path only; sync never calls this.
func (s *TradeStore) SetCustomField(ctx context.Context, id string, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("postgres: encode custom field %s: %w", name, err)
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE trades SET custom_fields = jsonb_set(custom_fields, ARRAY[$2], $3::jsonb, true), updated_at = NOW() WHERE id = $1",
		id, name, encoded)
	if err != nil {
		return fmt.Errorf("postgres: set custom field %s on %s: %w", name, id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
