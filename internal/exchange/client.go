package exchange

import (
	"context"
	"time"

	"tradejournal/internal/domain"
)

// Client is the canonical interface every exchange integration implements.
// All blocking methods take a context; implementations apply their own rate
// limiting before touching the network.
type Client interface {
	// Name returns the lowercase exchange identifier, e.g. "bitunix".
	Name() string

	// TestConnection performs an unauthenticated reachability probe.
	TestConnection(ctx context.Context) error

	// Authenticate verifies the credentials with the exchange. A successful
	// authentication is cached for a fixed period; Authenticated reports
	// whether that cache is still valid.
	Authenticate(ctx context.Context) error
	Authenticated() bool

	// PositionHistory fetches position snapshots. A zero since means "no
	// lower time bound"; limit <= 0 uses the exchange default. Individual
	// items that fail to parse are skipped, so a partial slice with no
	// error is a valid outcome.
	PositionHistory(ctx context.Context, since time.Time, limit int) ([]domain.Position, error)

	// PositionByID fetches one position. It returns domain.ErrNotFound when
	// the exchange no longer reports the ID.
	PositionByID(ctx context.Context, positionID string) (domain.Position, error)

	// Close releases the underlying HTTP resources.
	Close()
}

// Credentials is the key material handed to a client constructor. Secret may
// be empty for exchanges that sign with the key alone.
type Credentials struct {
	APIKey    string
	APISecret string
}
