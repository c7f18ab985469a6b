package fetchkit

import (
	"context"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/fetchkit/internal/singleflight"
)

const defaultThrottleThreshold = time.Second

// ThrottleOptions configures ThrottlePlugin.
type ThrottleOptions struct {
	// Enable is the plugin-wide default; Config.EnableThrottle overrides it.
	Enable Enabler
	// Threshold is the reuse window, 1s by default.
	// Config.ThrottleThreshold overrides it.
	Threshold time.Duration
	// Store defaults to NewLRUStore(100, 0).
	Store Store
	// Normalize may rewrite a copy of the request before the key is derived.
	Normalize func(*Config) *Config
}

type throttleEntry struct {
	call      *singleflight.Call[*Response]
	startedAt time.Time
}

// ThrottlePlugin answers a request with the result of an identical request
// started less than the threshold ago, whether that one is still in flight
// or already done. Reused responses have Throttled set. A failed call is
// forgotten so the next request goes out.
func ThrottlePlugin(opts ThrottleOptions) Plugin {
	store := opts.Store
	if store == nil {
		store = NewLRUStore(defaultCacheCapacity, 0)
	}
	var mu sync.Mutex

	return func(next Adapter, c *Client) Adapter {
		return func(ctx context.Context, cfg *Config) (*Response, error) {
			if !enabled(cfg, cfg.EnableThrottle, opts.Enable) {
				return next(ctx, cfg)
			}

			threshold := opts.Threshold
			if cfg.ThrottleThreshold > 0 {
				threshold = cfg.ThrottleThreshold
			}
			if threshold <= 0 {
				threshold = defaultThrottleThreshold
			}

			key := requestKey(cfg, opts.Normalize)
			now := time.Now()

			mu.Lock()
			if v, ok := store.Get(key); ok {
				if e, ok := v.(*throttleEntry); ok && now.Sub(e.startedAt) < threshold {
					mu.Unlock()
					c.metrics.RecordThrottleHit(cfg.Method, endpointOf(cfg))
					c.logPlugin("Throttled request", "requestID", cfg.RequestID(), "key", key)

					resp, err := e.call.Wait(ctx)
					if err != nil {
						return nil, err
					}
					out := resp.Clone()
					out.Throttled = true
					return out, nil
				}
			}
			e := &throttleEntry{call: singleflight.NewCall[*Response](), startedAt: now}
			store.Set(key, e)
			mu.Unlock()

			forget := func() {
				mu.Lock()
				if v, ok := store.Get(key); ok && v == e {
					store.Delete(key)
				}
				mu.Unlock()
			}
			defer func() {
				if p := recover(); p != nil {
					e.call.Resolve(nil, singleflight.ErrAbandoned)
					forget()
					panic(p)
				}
			}()

			resp, err := next(ctx, cfg)
			e.call.Resolve(resp, err)
			if err != nil {
				forget()
				return nil, err
			}
			return resp.Clone(), nil
		}
	}
}
