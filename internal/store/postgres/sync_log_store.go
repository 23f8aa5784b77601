package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradejournal/internal/domain"
)

// SyncLogStore implements domain.SyncLogStore using PostgreSQL.
type SyncLogStore struct {
	pool *pgxpool.Pool
}

// NewSyncLogStore creates a SyncLogStore backed by the given pool.
func NewSyncLogStore(pool *pgxpool.Pool) *SyncLogStore {
	return &SyncLogStore{pool: pool}
}

// Append records one finished sync run.
func (s *SyncLogStore) Append(ctx context.Context, entry domain.SyncLogEntry) error {
	if entry.Errors == nil {
		entry.Errors = []string{}
	}

	const query = `
		INSERT INTO sync_log (
			run_id, exchange, kind, status,
			fetched, added, updated, skipped,
			errors, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		entry.RunID, entry.Exchange, entry.Kind, entry.Status,
		entry.Fetched, entry.Added, entry.Updated, entry.Skipped,
		entry.Errors, entry.StartedAt, entry.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append sync log %s: %w", entry.RunID, err)
	}
	return nil
}

// ListRecent returns the most recent sync runs for an exchange, newest first.
// An empty exchange matches all exchanges.
func (s *SyncLogStore) ListRecent(ctx context.Context, exchange string, limit int) ([]domain.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT run_id, exchange, kind, status,
			fetched, added, updated, skipped,
			errors, started_at, finished_at
		FROM sync_log`
	args := []any{}
	if exchange != "" {
		query += " WHERE exchange = $1"
		args = append(args, exchange)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sync log: %w", err)
	}
	defer rows.Close()

	var entries []domain.SyncLogEntry
	for rows.Next() {
		var e domain.SyncLogEntry
		if err := rows.Scan(
			&e.RunID, &e.Exchange, &e.Kind, &e.Status,
			&e.Fetched, &e.Added, &e.Updated, &e.Skipped,
			&e.Errors, &e.StartedAt, &e.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sync log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ domain.SyncLogStore = (*SyncLogStore)(nil)
