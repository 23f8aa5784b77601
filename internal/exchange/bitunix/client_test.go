package bitunix

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
	"tradejournal/internal/ratelimit"
)

func ratelimitConfigForTests() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: 1000,
		RequestsPerMinute: 10000,
		RequestsPerHour:   100000,
	}
}

// newTestServer serves the time probe unconditionally and delegates the
// position endpoint to the given handler.
func newTestServer(t *testing.T, positions http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(serverTimePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"serverTime":1773907200000}}`))
	})
	mux.HandleFunc(positionHistoryPath, positions)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newServerClient(t *testing.T, srv *httptest.Server, creds exchange.Credentials) *Client {
	t.Helper()
	c, err := New(creds, ratelimitConfigForTests(),
		WithBaseURL(srv.URL),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return c
}

func TestValidateCredentials(t *testing.T) {
	require.NoError(t, ValidateCredentials(exchange.Credentials{APIKey: "0123456789abcdef"}))
	require.NoError(t, ValidateCredentials(exchange.Credentials{
		APIKey:    "0123456789abcdef",
		APISecret: "fedcba9876543210",
	}))

	assert.Error(t, ValidateCredentials(exchange.Credentials{APIKey: "short"}))
	assert.Error(t, ValidateCredentials(exchange.Credentials{
		APIKey:    "0123456789abcdef",
		APISecret: "short",
	}))
}

func TestPositionHistory(t *testing.T) {
	var captured *http.Request
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		w.Write([]byte(`{"code":0,"data":[
			{"positionId":"1","symbol":"BTCUSDT","side":"long","size":"0.5","entryPrice":"50000","markPrice":"50500","openTime":1773907200000},
			{"positionId":"2","side":"long","size":"1","entryPrice":"3000","openTime":1773907200000}
		]}`))
	})

	c := newServerClient(t, srv, exchange.Credentials{
		APIKey:    "test-api-key-0123456789",
		APISecret: "test-api-secret-9876543210",
	})

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	positions, err := c.PositionHistory(t.Context(), since, 0)
	require.NoError(t, err)

	// The second item has no symbol; it is skipped, not fatal.
	require.Len(t, positions, 1)
	assert.Equal(t, "1", positions[0].ID)
	assert.Equal(t, "bitunix", positions[0].Exchange)

	require.NotNil(t, captured)
	assert.Equal(t, "test-api-key-0123456789", captured.Header.Get("BX-APIKEY"))
	assert.NotEmpty(t, captured.Header.Get("BX-TIMESTAMP"))
	assert.NotEmpty(t, captured.Header.Get("BX-SIGNATURE"))

	query := captured.URL.Query()
	assert.Equal(t, "1772323200000", query.Get("startTime"))
	assert.Equal(t, "100", query.Get("limit"))

	// A successful round trip leaves the client authenticated.
	assert.True(t, c.Authenticated())
}

func TestPositionHistoryNoSecretSkipsSignature(t *testing.T) {
	var captured *http.Request
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		w.Write([]byte(`{"data":[]}`))
	})

	c := newServerClient(t, srv, exchange.Credentials{APIKey: "test-api-key-0123456789"})

	_, err := c.PositionHistory(t.Context(), time.Time{}, 0)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "test-api-key-0123456789", captured.Header.Get("BX-APIKEY"))
	assert.Empty(t, captured.Header.Get("BX-SIGNATURE"))
	// Zero since means no lower bound.
	assert.Empty(t, captured.URL.Query().Get("startTime"))
}

func TestPositionHistoryErrorClassification(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"10001","msg":"invalid api key"}`))
		})
		c := newServerClient(t, srv, exchange.Credentials{APIKey: "test-api-key-0123456789"})

		_, err := c.PositionHistory(t.Context(), time.Time{}, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "17")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"msg":"too many requests"}`))
		})
		c := newServerClient(t, srv, exchange.Credentials{APIKey: "test-api-key-0123456789"})

		_, err := c.PositionHistory(t.Context(), time.Time{}, 0)
		require.ErrorIs(t, err, domain.ErrRateLimited)

		var rlErr *exchange.RateLimitError
		require.ErrorAs(t, err, &rlErr)
		assert.Equal(t, 17, rlErr.RetryAfterSeconds)
	})

	t.Run("server error", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`boom`))
		})
		c := newServerClient(t, srv, exchange.Credentials{APIKey: "test-api-key-0123456789"})

		_, err := c.PositionHistory(t.Context(), time.Time{}, 0)
		assert.ErrorIs(t, err, domain.ErrBadResponse)
	})

	t.Run("unreachable host", func(t *testing.T) {
		c, err := New(
			exchange.Credentials{APIKey: "test-api-key-0123456789"},
			ratelimitConfigForTests(),
			WithBaseURL("http://127.0.0.1:1"),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
		require.NoError(t, err)

		_, err = c.PositionHistory(t.Context(), time.Time{}, 0)
		assert.ErrorIs(t, err, domain.ErrNetwork)
	})
}

func TestAuthenticateFailureIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newServerClient(t, srv, exchange.Credentials{APIKey: "test-api-key-0123456789"})

	err := c.Authenticate(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, c.Authenticated())
}

func TestAuthenticationExpires(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	c := newServerClient(t, srv, exchange.Credentials{APIKey: "test-api-key-0123456789"})

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Authenticate(t.Context()))
	assert.True(t, c.Authenticated())

	now = now.Add(authValidity + time.Minute)
	assert.False(t, c.Authenticated())
}

func TestPositionByID(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"positionId":"7","symbol":"BTCUSDT","side":"long","size":"1","entryPrice":"50000","openTime":1773907200000}
		]}`))
	})
	c := newServerClient(t, srv, exchange.Credentials{APIKey: "test-api-key-0123456789"})

	pos, err := c.PositionByID(t.Context(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", pos.ID)

	_, err = c.PositionByID(t.Context(), "8")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
