package fetchkit

import (
	"context"

	"github.com/ambiyansyah-risyal/fetchkit/internal/singleflight"
)

// DedupeOptions configures DedupePlugin.
type DedupeOptions struct {
	// Enable is the plugin-wide default; Config.EnableDedupe overrides it.
	Enable Enabler
	// Normalize may rewrite a copy of the request before the key is derived.
	Normalize func(*Config) *Config
}

// DedupePlugin collapses identical concurrent requests into one round trip.
// Callers that arrive while a request is in flight wait for its outcome and
// each receive their own copy of the response, or the same error. The
// in-flight set belongs to the returned plugin, so two clients only share
// requests when they share the plugin value.
func DedupePlugin(opts DedupeOptions) Plugin {
	group := singleflight.New[*Response]()

	return func(next Adapter, c *Client) Adapter {
		return func(ctx context.Context, cfg *Config) (*Response, error) {
			if !enabled(cfg, cfg.EnableDedupe, opts.Enable) {
				return next(ctx, cfg)
			}

			key := requestKey(cfg, opts.Normalize)
			resp, err, shared := group.Do(ctx, key, func() (*Response, error) {
				return next(ctx, cfg)
			})
			if shared {
				c.metrics.RecordDeduplicationHit(cfg.Method, endpointOf(cfg))
				c.logPlugin("Joined in-flight request", "requestID", cfg.RequestID(), "key", key)
			}
			if err != nil {
				return nil, err
			}
			return resp.Clone(), nil
		}
	}
}
