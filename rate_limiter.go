package fetchkit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyFunc maps a request to the name of the limiter that governs it.
type KeyFunc func(cfg *Config) string

// DefaultHostKeyFunc generates a key based on the request host.
func DefaultHostKeyFunc(cfg *Config) string {
	if u, err := url.Parse(cfg.ResolvedURL()); err == nil && u.Host != "" {
		return "host:" + u.Host
	}
	return "host:unknown"
}

// DefaultRouteKeyFunc generates a key based on the request method and path.
func DefaultRouteKeyFunc(cfg *Config) string {
	path := "/"
	if u, err := url.Parse(cfg.ResolvedURL()); err == nil && u.Path != "" {
		path = u.Path
	}
	return "route:" + cfg.Method + ":" + path
}

// RateLimiterRegistry hands out one token bucket per key, creating them on
// first use from the registry's default rate.
type RateLimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	keyFunc  KeyFunc
	limit    rate.Limit
	burst    int
}

// NewRateLimiterRegistry creates a registry whose lazily created limiters
// allow limit events per second with the given burst.
func NewRateLimiterRegistry(keyFunc KeyFunc, limit rate.Limit, burst int) *RateLimiterRegistry {
	if keyFunc == nil {
		keyFunc = DefaultHostKeyFunc
	}
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		keyFunc:  keyFunc,
		limit:    limit,
		burst:    burst,
	}
}

// RegisterLimiter installs a dedicated limiter for key.
func (r *RateLimiterRegistry) RegisterLimiter(key string, limiter *rate.Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[key] = limiter
}

// GetLimiter returns the limiter for cfg and the key it was found under.
func (r *RateLimiterRegistry) GetLimiter(cfg *Config) (*rate.Limiter, string) {
	key := r.keyFunc(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	return l, key
}

// RateLimitOptions configures RateLimitPlugin.
type RateLimitOptions struct {
	// Limit is the sustained rate in requests per second.
	Limit rate.Limit
	// Burst is the bucket size; 1 by default.
	Burst int
	// KeyFunc selects the bucket; DefaultHostKeyFunc by default.
	KeyFunc KeyFunc
	// FailFast rejects instead of waiting when no token is available.
	FailFast bool
	// Registry overrides Limit, Burst and KeyFunc with a shared registry.
	Registry *RateLimiterRegistry
}

// RateLimitPlugin delays requests so each key stays within its token
// bucket. Waiting honors ctx; a wait that cannot finish before the ctx
// deadline fails with an error wrapping ErrRateLimited.
func RateLimitPlugin(opts RateLimitOptions) Plugin {
	reg := opts.Registry
	if reg == nil {
		reg = NewRateLimiterRegistry(opts.KeyFunc, opts.Limit, opts.Burst)
	}

	return func(next Adapter, c *Client) Adapter {
		return func(ctx context.Context, cfg *Config) (*Response, error) {
			limiter, key := reg.GetLimiter(cfg)

			if opts.FailFast {
				if !limiter.Allow() {
					return nil, rateLimitError(cfg)
				}
				return next(ctx, cfg)
			}

			start := time.Now()
			if err := limiter.Wait(ctx); err != nil {
				if cause := context.Cause(ctx); cause != nil {
					return nil, cause
				}
				return nil, rateLimitError(cfg)
			}
			if waited := time.Since(start); waited > time.Millisecond {
				c.metrics.RecordRateLimitWait(key, waited)
				c.logPlugin("Rate limited", "requestID", cfg.RequestID(), "key", key, "waited", waited)
			}
			return next(ctx, cfg)
		}
	}
}

func rateLimitError(cfg *Config) *Error {
	return &Error{
		Type:      ErrorTypeRateLimit,
		Message:   "rate limit exceeded",
		Config:    cfg,
		Cause:     ErrRateLimited,
		RequestID: cfg.RequestID(),
	}
}
