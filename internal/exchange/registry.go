package exchange

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tradejournal/internal/domain"
	"tradejournal/internal/ratelimit"
)

// Descriptor describes one supported exchange: its identity, default rate
// limits, and how to validate credential format before any network call.
type Descriptor struct {
	Name        string
	DisplayName string
	Description string

	// DefaultRateLimits bound the client when the config does not override
	// them.
	DefaultRateLimits ratelimit.Config

	// RequiresSecret reports whether the exchange signs with a separate
	// secret in addition to the API key.
	RequiresSecret bool

	// ValidateCredentials is a cheap client-side format check, not a server
	// round-trip.
	ValidateCredentials func(creds Credentials) error

	// New constructs a client from credentials and a rate limit config.
	New func(creds Credentials, limits ratelimit.Config) (Client, error)
}

// Registry maps exchange names to descriptors and caches one live client per
// exchange. It replaces the package-level singleton factory of earlier
// designs; construct one at startup and pass it to consumers.
type Registry struct {
	logger *slog.Logger

	mu          sync.Mutex
	descriptors map[string]Descriptor
	clients     map[string]cachedClient
}

type cachedClient struct {
	client Client
	creds  Credentials
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:      logger.With(slog.String("component", "exchange_registry")),
		descriptors: make(map[string]Descriptor),
		clients:     make(map[string]cachedClient),
	}
}

// Register adds a descriptor. Registering the same name twice is a
// programming error.
func (r *Registry) Register(d Descriptor) error {
	name := strings.ToLower(strings.TrimSpace(d.Name))
	if name == "" {
		return fmt.Errorf("registry: descriptor name is required")
	}
	if d.New == nil {
		return fmt.Errorf("registry: descriptor %q has no constructor", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descriptors[name]; ok {
		return fmt.Errorf("registry: exchange %q %w", name, domain.ErrAlreadyExists)
	}
	r.descriptors[name] = d
	r.logger.Info("registered exchange", slog.String("exchange", name))
	return nil
}

// Supported reports whether the exchange is registered.
func (r *Registry) Supported(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.descriptors[strings.ToLower(name)]
	return ok
}

// Descriptors returns all registered descriptors.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// Descriptor returns the descriptor for one exchange.
func (r *Registry) Descriptor(name string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[strings.ToLower(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("registry: %q: %w", name, domain.ErrExchangeUnknown)
	}
	return d, nil
}

// ValidateCredentials runs the descriptor's format check.
func (r *Registry) ValidateCredentials(name string, creds Credentials) error {
	d, err := r.Descriptor(name)
	if err != nil {
		return err
	}
	if d.ValidateCredentials == nil {
		return nil
	}
	return d.ValidateCredentials(creds)
}

// CreateClient validates the credential format and constructs a fresh,
// uncached client. When limits is the zero value the descriptor's defaults
// apply.
func (r *Registry) CreateClient(name string, creds Credentials, limits ratelimit.Config) (Client, error) {
	d, err := r.Descriptor(name)
	if err != nil {
		return nil, err
	}
	if d.ValidateCredentials != nil {
		if err := d.ValidateCredentials(creds); err != nil {
			return nil, fmt.Errorf("registry: %s credentials: %w", d.Name, err)
		}
	}
	if limits == (ratelimit.Config{}) {
		limits = d.DefaultRateLimits
	}

	client, err := d.New(creds, limits)
	if err != nil {
		return nil, fmt.Errorf("registry: create %s client: %w", d.Name, err)
	}
	return client, nil
}

// GetOrCreateClient returns the cached client for the exchange, constructing
// one on first use. A cached client whose credentials differ from creds is
// closed and replaced.
func (r *Registry) GetOrCreateClient(name string, creds Credentials, limits ratelimit.Config) (Client, error) {
	key := strings.ToLower(name)

	r.mu.Lock()
	if cached, ok := r.clients[key]; ok {
		if cached.creds == creds {
			r.mu.Unlock()
			return cached.client, nil
		}
		cached.client.Close()
		delete(r.clients, key)
		r.logger.Info("replacing cached client, credentials changed",
			slog.String("exchange", key),
		)
	}
	r.mu.Unlock()

	client, err := r.CreateClient(name, creds, limits)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have raced us here; prefer the first one in.
	if cached, ok := r.clients[key]; ok && cached.creds == creds {
		client.Close()
		return cached.client, nil
	}
	r.clients[key] = cachedClient{client: client, creds: creds}
	return client, nil
}

// CloseClient closes and drops the cached client for one exchange.
func (r *Registry) CloseClient(name string) {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.clients[key]; ok {
		cached.client.Close()
		delete(r.clients, key)
	}
}

// CloseAll releases every cached client. Call on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, cached := range r.clients {
		cached.client.Close()
		delete(r.clients, name)
	}
}
