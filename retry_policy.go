package fetchkit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxRetryAfter = time.Hour

// RetryAfter returns the wait a 429 or 503 error response asks for through
// its Retry-After header.
func RetryAfter(err error) (time.Duration, bool) {
	e, ok := AsError(err)
	if !ok || e.Response == nil {
		return 0, false
	}
	switch e.Response.Status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		return 0, false
	}
	d := parseRetryAfter(e.Response.Header.Get("Retry-After"), time.Now())
	return d, d > 0
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Values beyond an
// hour are ignored.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		d := time.Duration(secs) * time.Second
		if secs > 0 && d <= maxRetryAfter {
			return d
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d > 0 && d <= maxRetryAfter {
			return d
		}
	}
	return 0
}

// IsIdempotent reports whether method can be resent without side effects.
func IsIdempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// RetryTransient is a ShouldRetry filter for transient failures of
// idempotent requests.
func RetryTransient(cfg *Config, err error) bool {
	return IsIdempotent(cfg.Method) && IsTransient(err)
}

// RetryBudget caps the retries a client issues within a sliding window, so a
// failing upstream is not flooded with resends.
type RetryBudget struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	start time.Time
	used  int
}

// NewRetryBudget allows maxRetries resends per window.
func NewRetryBudget(maxRetries int, window time.Duration) *RetryBudget {
	b := &RetryBudget{max: maxRetries, window: window, now: time.Now}
	b.start = b.now()
	return b
}

// Allow consumes one retry if the budget has any left.
func (b *RetryBudget) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Sub(b.start) >= b.window {
		b.start = now
		b.used = 0
	}
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Remaining returns the retries left in the current window.
func (b *RetryBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Sub(b.start) >= b.window {
		return b.max
	}
	return b.max - b.used
}
