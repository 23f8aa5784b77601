// Package ratelimit implements the per-client request gate used by exchange
// clients. Three independent windows must all pass before a request may be
// sent: minimum spacing since the previous request, a trailing 60 second
// count, and a trailing one hour count.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config bounds the request rate of one exchange client.
type Config struct {
	RequestsPerSecond float64
	RequestsPerMinute int
	RequestsPerHour   int
}

// Validate rejects configurations that would block every request forever.
func (c Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit: requests per second must be positive")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit: requests per minute must be positive")
	}
	if c.RequestsPerHour <= 0 {
		return fmt.Errorf("ratelimit: requests per hour must be positive")
	}
	return nil
}

// Limiter is a blocking, in-process request gate. It is safe for concurrent
// use; Wait sleeps the exact computed interval instead of polling.
//
// The per-second check compares only against the single most recent request,
// not a sliding window, so the minute and hour windows are the effective
// limiters under bursts.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	times    []time.Time // requests in the trailing hour, oldest first
	lastSent time.Time

	now func() time.Time
}

// New creates a Limiter for the given config.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg: cfg,
		now: time.Now,
	}
}

// Allow reports whether a request may be sent right now. It does not count
// the request; callers that proceed must call Record.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowLocked(l.now())
}

// Record counts a request against all windows and prunes entries older than
// one hour.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	l.times = append(l.times, now)
	l.lastSent = now
}

// Wait blocks until a request is permitted, then records it. It returns an
// error only when the context is cancelled first.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.allowLocked(now) {
			l.prune(now)
			l.times = append(l.times, now)
			l.lastSent = now
			l.mu.Unlock()
			return nil
		}
		wait := l.nextSlotLocked(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Limiter) allowLocked(now time.Time) bool {
	l.prune(now)

	recent := 0
	minuteAgo := now.Add(-time.Minute)
	for _, t := range l.times {
		if t.After(minuteAgo) {
			recent++
		}
	}
	if recent >= l.cfg.RequestsPerMinute {
		return false
	}
	if len(l.times) >= l.cfg.RequestsPerHour {
		return false
	}

	minInterval := l.minInterval()
	if !l.lastSent.IsZero() && now.Sub(l.lastSent) < minInterval {
		return false
	}
	return true
}

// nextSlotLocked returns how long the caller must sleep before the earliest
// window could open. The answer is the largest of the per-second spacing, the
// minute window, and the hour window deficits.
func (l *Limiter) nextSlotLocked(now time.Time) time.Duration {
	wait := time.Duration(0)

	if !l.lastSent.IsZero() {
		if d := l.minInterval() - now.Sub(l.lastSent); d > wait {
			wait = d
		}
	}

	minuteAgo := now.Add(-time.Minute)
	var inMinute []time.Time
	for _, t := range l.times {
		if t.After(minuteAgo) {
			inMinute = append(inMinute, t)
		}
	}
	if len(inMinute) >= l.cfg.RequestsPerMinute {
		if d := inMinute[0].Add(time.Minute).Sub(now); d > wait {
			wait = d
		}
	}

	if len(l.times) >= l.cfg.RequestsPerHour {
		if d := l.times[0].Add(time.Hour).Sub(now); d > wait {
			wait = d
		}
	}

	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	return wait
}

func (l *Limiter) minInterval() time.Duration {
	return time.Duration(float64(time.Second) / l.cfg.RequestsPerSecond)
}

// prune drops request timestamps older than one hour.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(l.times) && !l.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}
