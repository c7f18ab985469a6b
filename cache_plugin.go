package fetchkit

import (
	"context"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/fetchkit/internal/singleflight"
)

const (
	defaultCacheCapacity = 100
	defaultCacheTTL      = 5 * time.Minute
)

// CacheOptions configures CachePlugin.
type CacheOptions struct {
	// Enable is the plugin-wide default; Config.EnableCache overrides it.
	Enable Enabler
	// Store defaults to NewLRUStore(100, 5*time.Minute).
	Store Store
	// Normalize may rewrite a copy of the request before the key is derived,
	// e.g. to drop a cache-busting param.
	Normalize func(*Config) *Config
	// HonorCacheControl skips responses marked no-store or no-cache and
	// stops serving an entry once its max-age or Expires has passed.
	HonorCacheControl bool
}

type cacheEntry struct {
	call     *singleflight.Call[*Response]
	storedAt time.Time
	// zero when only the store TTL applies
	expiresAt time.Time
}

func (e *cacheEntry) stale(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// CachePlugin serves repeated requests from a store. The in-flight call is
// stored before the request is sent, so concurrent identical requests share
// one round trip. Failed calls are evicted. Config.ForceUpdate skips the
// lookup and replaces the entry.
func CachePlugin(opts CacheOptions) Plugin {
	store := opts.Store
	if store == nil {
		store = NewLRUStore(defaultCacheCapacity, defaultCacheTTL)
	}
	var mu sync.Mutex

	return func(next Adapter, c *Client) Adapter {
		return func(ctx context.Context, cfg *Config) (*Response, error) {
			if !enabled(cfg, cfg.EnableCache, opts.Enable) {
				return next(ctx, cfg)
			}

			key := requestKey(cfg, opts.Normalize)
			endpoint := endpointOf(cfg)

			mu.Lock()
			if !cfg.ForceUpdate {
				if v, ok := store.Get(key); ok {
					if e, ok := v.(*cacheEntry); ok && !e.stale(time.Now()) {
						mu.Unlock()
						c.metrics.RecordCacheHit("cache", cfg.Method, endpoint)
						c.logCache("Cache hit", "requestID", cfg.RequestID(), "key", key)
						return e.hit(ctx, key)
					}
				}
			}
			e := &cacheEntry{call: singleflight.NewCall[*Response](), storedAt: time.Now()}
			store.Set(key, e)
			mu.Unlock()

			c.metrics.RecordCacheMiss("cache", cfg.Method, endpoint)
			c.logCache("Cache miss", "requestID", cfg.RequestID(), "key", key, "forceUpdate", cfg.ForceUpdate)

			evict := func() {
				mu.Lock()
				if v, ok := store.Get(key); ok && v == e {
					store.Delete(key)
				}
				mu.Unlock()
			}
			defer func() {
				if p := recover(); p != nil {
					e.call.Resolve(nil, singleflight.ErrAbandoned)
					evict()
					panic(p)
				}
			}()

			resp, err := next(ctx, cfg)
			e.call.Resolve(resp, err)
			if err != nil {
				evict()
				return nil, err
			}

			if opts.HonorCacheControl {
				expires, storable := freshness(resp, time.Now())
				if !storable {
					evict()
				} else if !expires.IsZero() {
					mu.Lock()
					e.expiresAt = expires
					mu.Unlock()
				}
			}
			return resp.Clone(), nil
		}
	}
}

func (e *cacheEntry) hit(ctx context.Context, key string) (*Response, error) {
	resp, err := e.call.Wait(ctx)
	if err != nil {
		return nil, err
	}
	out := resp.Clone()
	out.FromCache = true
	out.CacheTime = e.storedAt
	out.CacheKey = key
	return out, nil
}
