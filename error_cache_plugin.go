package fetchkit

import (
	"context"
	"time"

	"github.com/ambiyansyah-risyal/fetchkit/internal/singleflight"
)

// ErrorCacheOptions configures ErrorCachePlugin.
type ErrorCacheOptions struct {
	// Enable is the plugin-wide default; Config.EnableErrorCache overrides it.
	Enable Enabler
	// Store defaults to NewLRUStore(100, 0); entries do not expire.
	Store Store
	// Normalize may rewrite a copy of the request before the key is derived.
	Normalize func(*Config) *Config
	// UseCacheFirst serves a stored response straight away and refreshes it
	// in the background. Config.UseCacheFirst enables it per request.
	UseCacheFirst bool
	// OnRefreshError is called when a background refresh fails.
	OnRefreshError func(cfg *Config, err error)
}

type errorCacheEntry struct {
	resp     *Response
	storedAt time.Time
}

// ErrorCachePlugin remembers the last successful response per request key
// and answers with it when a later identical request fails. The fallback
// response has FromCache set and carries the failure in Err.
func ErrorCachePlugin(opts ErrorCacheOptions) Plugin {
	store := opts.Store
	if store == nil {
		store = NewLRUStore(defaultCacheCapacity, 0)
	}
	refreshes := singleflight.New[*Response]()

	lookup := func(key string) (*errorCacheEntry, bool) {
		v, ok := store.Get(key)
		if !ok {
			return nil, false
		}
		e, ok := v.(*errorCacheEntry)
		return e, ok
	}

	return func(next Adapter, c *Client) Adapter {
		fetch := func(ctx context.Context, cfg *Config, key string) (*Response, error) {
			resp, err := next(ctx, cfg)
			if err == nil {
				store.Set(key, &errorCacheEntry{resp: resp, storedAt: time.Now()})
			}
			return resp, err
		}

		return func(ctx context.Context, cfg *Config) (*Response, error) {
			if !enabled(cfg, cfg.EnableErrorCache, opts.Enable) {
				return next(ctx, cfg)
			}

			key := requestKey(cfg, opts.Normalize)

			if cfg.UseCacheFirst || opts.UseCacheFirst {
				if e, ok := lookup(key); ok {
					c.metrics.RecordCacheHit("error_cache", cfg.Method, endpointOf(cfg))
					c.logCache("Serving cached response, refreshing in background", "requestID", cfg.RequestID(), "key", key)

					go func() {
						bg := context.WithoutCancel(ctx)
						if cfg.Timeout > 0 {
							var cancel context.CancelFunc
							bg, cancel = context.WithTimeoutCause(bg, cfg.Timeout, NewTimeoutError(cfg, cfg.Timeout))
							defer cancel()
						}
						_, err, ran := refreshes.TryDo(key, func() (*Response, error) {
							return fetch(bg, cfg, key)
						})
						if ran && err != nil {
							err = unwrapIntercepted(err)
							c.warn("Background refresh failed", "key", key, "error", err)
							if opts.OnRefreshError != nil {
								opts.OnRefreshError(cfg, err)
							}
						}
					}()

					return e.fallback(key, nil), nil
				}
			}

			resp, err := fetch(ctx, cfg, key)
			if err == nil {
				return resp, nil
			}

			e, ok := lookup(key)
			if !ok {
				return nil, err
			}
			c.metrics.RecordCacheHit("error_cache", cfg.Method, endpointOf(cfg))
			c.logCache("Request failed, serving last good response", "requestID", cfg.RequestID(), "key", key, "error", err)
			return e.fallback(key, err), nil
		}
	}
}

func (e *errorCacheEntry) fallback(key string, err error) *Response {
	out := e.resp.Clone()
	out.FromCache = true
	out.CacheTime = e.storedAt
	out.CacheKey = key
	out.Err = unwrapIntercepted(err)
	return out
}
