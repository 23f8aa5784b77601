package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"tradejournal/internal/ratelimit"
)

// RateLimit returns middleware that applies per-client rate limiting, keyed
// by client IP. Each client gets its own windowed limiter allowing perMinute
// requests. A perMinute of zero or less disables limiting entirely.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	cfg := ratelimit.Config{
		RequestsPerSecond: float64(perMinute),
		RequestsPerMinute: perMinute,
		RequestsPerHour:   perMinute * 60,
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*ratelimit.Limiter)
	)
	limiterFor := func(ip string) *ratelimit.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[ip]
		if !ok {
			l = ratelimit.New(cfg)
			limiters[ip] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		if perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := limiterFor(extractClientIP(r))
			if !l.Allow() {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			l.Record()
			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
