// Package bitunix implements the exchange.Client interface for the Bitunix
// futures API. Requests are signed with HMAC-SHA256 over
// timestamp+method+path+query+body and sent with BX-* authentication
// headers.
package bitunix

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
	"tradejournal/internal/ratelimit"
)

const (
	defaultBaseURL = "https://fapi.bitunix.com"

	serverTimePath      = "/api/v1/common/time"
	positionHistoryPath = "/api/v1/future/position"

	requestTimeout = 30 * time.Second
	authValidity   = time.Hour

	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Descriptor returns the registry entry for Bitunix.
func Descriptor() exchange.Descriptor {
	return exchange.Descriptor{
		Name:        "bitunix",
		DisplayName: "Bitunix",
		Description: "Bitunix futures position history",
		DefaultRateLimits: ratelimit.Config{
			RequestsPerSecond: 2.0,
			RequestsPerMinute: 100,
			RequestsPerHour:   2000,
		},
		RequiresSecret:      false,
		ValidateCredentials: ValidateCredentials,
		New: func(creds exchange.Credentials, limits ratelimit.Config) (exchange.Client, error) {
			return New(creds, limits)
		},
	}
}

// ValidateCredentials is the client-side format check: the API key must be
// at least 16 characters, and so must the secret when one is supplied.
func ValidateCredentials(creds exchange.Credentials) error {
	if len(strings.TrimSpace(creds.APIKey)) < 16 {
		return fmt.Errorf("bitunix: api key must be at least 16 characters")
	}
	if creds.APISecret != "" && len(strings.TrimSpace(creds.APISecret)) < 16 {
		return fmt.Errorf("bitunix: api secret must be at least 16 characters")
	}
	return nil
}

// Client talks to the Bitunix futures REST API.
type Client struct {
	baseURL    string
	creds      exchange.Credentials
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.Mutex
	authenticated bool
	authExpiresAt time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l.With(slog.String("exchange", "bitunix")) }
}

// New creates a Bitunix client with the given credentials and rate limits.
func New(creds exchange.Credentials, limits ratelimit.Config, opts ...Option) (*Client, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: defaultBaseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: ratelimit.New(limits),
		logger:  slog.Default().With(slog.String("exchange", "bitunix")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements exchange.Client.
func (c *Client) Name() string { return "bitunix" }

// TestConnection probes the public server-time endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, serverTimePath, nil, false)
	if err != nil {
		return fmt.Errorf("bitunix: connection test: %w", err)
	}
	return nil
}

// Authenticate verifies connectivity and caches the result for one hour.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := c.TestConnection(ctx); err != nil {
		c.mu.Lock()
		c.authenticated = false
		c.mu.Unlock()

		var authErr *exchange.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return &exchange.AuthError{Message: err.Error()}
	}

	c.mu.Lock()
	c.authenticated = true
	c.authExpiresAt = c.now().Add(authValidity)
	c.mu.Unlock()

	c.logger.Info("authenticated")
	return nil
}

// Authenticated reports whether a prior authentication is still valid,
// lazily expiring stale state.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authenticated {
		return false
	}
	if c.now().After(c.authExpiresAt) {
		c.authenticated = false
		return false
	}
	return true
}

// PositionHistory implements exchange.Client. Items that fail to parse are
// logged and skipped; an entirely unrecognized response shape is an APIError.
func (c *Client) PositionHistory(ctx context.Context, since time.Time, limit int) ([]domain.Position, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	if !since.IsZero() {
		query.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, http.MethodGet, positionHistoryPath+"?"+query.Encode(), nil, true)
	if err != nil {
		return nil, fmt.Errorf("bitunix: position history: %w", err)
	}

	items, err := decodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("bitunix: position history: %w", err)
	}

	positions := make([]domain.Position, 0, len(items))
	parseFailures := 0
	for i, item := range items {
		pos, err := c.parsePosition(item)
		if err != nil {
			parseFailures++
			c.logger.Warn("skipping unparseable position",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		positions = append(positions, pos)
	}

	if parseFailures > 0 {
		c.logger.Warn("position history partially parsed",
			slog.Int("failed", parseFailures),
			slog.Int("total", len(items)),
		)
	}
	c.logger.Debug("fetched position history",
		slog.Int("count", len(positions)),
	)
	return positions, nil
}

// PositionByID fetches one position. Bitunix has no per-ID endpoint, so this
// scans the full history window.
func (c *Client) PositionByID(ctx context.Context, positionID string) (domain.Position, error) {
	positions, err := c.PositionHistory(ctx, time.Time{}, maxHistoryLimit)
	if err != nil {
		return domain.Position{}, err
	}
	for _, pos := range positions {
		if pos.ID == positionID {
			return pos, nil
		}
	}
	return domain.Position{}, fmt.Errorf("bitunix: position %s: %w", positionID, domain.ErrNotFound)
}

// Close releases idle HTTP connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	return c.Authenticate(ctx)
}

// doRequest rate-limits, signs (when authed), sends, and classifies the
// response. path may carry an encoded query string.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, authed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyBytes []byte
	var bodyReader io.Reader
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tradejournal/1.0")

	if authed {
		c.signRequest(req, method, bodyBytes)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &exchange.NetworkError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if err := classifyStatus(resp, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest sets the BX-* authentication headers. The signed message is
// timestamp + METHOD + path + sortedQuery + body, hex-encoded HMAC-SHA256
// with the API secret. Without a secret only the key and timestamp headers
// are sent.
func (c *Client) signRequest(req *http.Request, method string, body []byte) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	req.Header.Set("BX-APIKEY", c.creds.APIKey)
	req.Header.Set("BX-TIMESTAMP", ts)

	if c.creds.APISecret == "" {
		return
	}

	message := ts + strings.ToUpper(method) + req.URL.Path + sortedQuery(req.URL.Query()) + string(body)
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(message))
	req.Header.Set("BX-SIGNATURE", hex.EncodeToString(mac.Sum(nil)))
}

// sortedQuery renders query params as k=v pairs joined by & in key order, the
// canonical form Bitunix signs against.
func sortedQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range values[k] {
			pairs = append(pairs, k+"="+v)
		}
	}
	return strings.Join(pairs, "&")
}

// classifyStatus maps non-2xx responses to the typed error taxonomy.
func classifyStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, code := errorBody(body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		return &exchange.RateLimitError{
			Message:           msg,
			StatusCode:        resp.StatusCode,
			RetryAfterSeconds: retryAfter,
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &exchange.AuthError{Message: msg, Code: code, StatusCode: resp.StatusCode}
	default:
		return &exchange.APIError{Message: msg, Code: code, StatusCode: resp.StatusCode}
	}
}

// errorBody extracts message/code from an error response, tolerating
// non-JSON bodies.
func errorBody(body []byte) (msg, code string) {
	var parsed struct {
		Message string          `json:"message"`
		Msg     string          `json:"msg"`
		Code    json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		msg = parsed.Message
		if msg == "" {
			msg = parsed.Msg
		}
		code = strings.Trim(string(parsed.Code), `"`)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg, code
}

func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &exchange.NetworkError{Message: "request timeout"}
	}
	return &exchange.NetworkError{Message: err.Error()}
}
