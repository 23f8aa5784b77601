// Package exchange defines the canonical client interface, error taxonomy,
// and dependency-injected registry for exchange integrations.
package exchange

import (
	"fmt"

	"tradejournal/internal/domain"
)

// AuthError reports a 401/403 or a failed authentication handshake.
type AuthError struct {
	Message    string
	Code       string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", detail(e.Message, e.Code, e.StatusCode))
}

// Unwrap ties the error to domain.ErrUnauthorized for errors.Is checks.
func (e *AuthError) Unwrap() error { return domain.ErrUnauthorized }

// RateLimitError reports an HTTP 429. RetryAfterSeconds comes from the
// Retry-After response header, defaulting to 60 when absent.
type RateLimitError struct {
	Message           string
	StatusCode        int
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %ds)", e.Message, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// NetworkError reports a transport-level failure: timeout, connection reset,
// DNS failure. The request may never have reached the exchange.
type NetworkError struct {
	Message string
}

func (e *NetworkError) Error() string { return "network error: " + e.Message }

func (e *NetworkError) Unwrap() error { return domain.ErrNetwork }

// APIError reports any non-2xx response that is not an authentication or
// rate-limit failure, and malformed or unrecognized response bodies.
type APIError struct {
	Message    string
	Code       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s", detail(e.Message, e.Code, e.StatusCode))
}

func (e *APIError) Unwrap() error { return domain.ErrBadResponse }

func detail(msg, code string, status int) string {
	switch {
	case code != "" && status != 0:
		return fmt.Sprintf("%s (code=%s, http=%d)", msg, code, status)
	case status != 0:
		return fmt.Sprintf("%s (http=%d)", msg, status)
	default:
		return msg
	}
}
