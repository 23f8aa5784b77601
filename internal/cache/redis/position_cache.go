package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tradejournal/internal/domain"
)

// PositionCache implements domain.PositionCache on Redis hashes: one hash
// per exchange keyed by position ID, each field holding the JSON-encoded
// position. A companion set tracks which exchanges have entries.
type PositionCache struct {
	rdb *redis.Client
}

// NewPositionCache creates a PositionCache backed by the given Client.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{rdb: c.Underlying()}
}

func positionsKey(exchange string) string {
	return "positions:" + exchange
}

const exchangesKey = "positions:exchanges"

// Put stores or replaces one position snapshot.
func (pc *PositionCache) Put(ctx context.Context, pos domain.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: encode position %s: %w", pos.ID, err)
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, positionsKey(pos.Exchange), pos.ID, data)
	pipe.SAdd(ctx, exchangesKey, pos.Exchange)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put position %s/%s: %w", pos.Exchange, pos.ID, err)
	}
	return nil
}

// Get returns one cached position or domain.ErrNotFound.
func (pc *PositionCache) Get(ctx context.Context, exchange, positionID string) (domain.Position, error) {
	data, err := pc.rdb.HGet(ctx, positionsKey(exchange), positionID).Bytes()
	if err == redis.Nil {
		return domain.Position{}, fmt.Errorf("redis: position %s/%s: %w", exchange, positionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("redis: get position %s/%s: %w", exchange, positionID, err)
	}

	var pos domain.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return domain.Position{}, fmt.Errorf("redis: decode position %s/%s: %w", exchange, positionID, err)
	}
	return pos, nil
}

// Snapshot returns every cached position for the exchange keyed by ID.
// Entries that no longer decode are dropped rather than failing the whole
// snapshot.
func (pc *PositionCache) Snapshot(ctx context.Context, exchange string) (map[string]domain.Position, error) {
	raw, err := pc.rdb.HGetAll(ctx, positionsKey(exchange)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: snapshot positions %s: %w", exchange, err)
	}

	out := make(map[string]domain.Position, len(raw))
	for id, data := range raw {
		var pos domain.Position
		if err := json.Unmarshal([]byte(data), &pos); err != nil {
			continue
		}
		out[id] = pos
	}
	return out, nil
}

// Exchanges lists exchanges with at least one cached position.
func (pc *PositionCache) Exchanges(ctx context.Context) ([]string, error) {
	names, err := pc.rdb.SMembers(ctx, exchangesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list cached exchanges: %w", err)
	}
	return names, nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)
