package fetchkit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ambiyansyah-risyal/fetchkit/internal/singleflight"
)

// TokenRefreshOptions configures TokenRefreshPlugin.
type TokenRefreshOptions struct {
	// RefreshToken obtains new credentials. err is the failure that
	// triggered the refresh, or nil for a proactive refresh. Required.
	RefreshToken func(ctx context.Context, err error) error
	// ShouldRefresh picks the failures that call for a refresh. A 401
	// response does by default.
	ShouldRefresh func(err error) bool
	// IsTokenExpired, when set, is checked before sending so an expired
	// token is renewed up front.
	IsTokenExpired func(cfg *Config) bool
	// Enable limits the plugin to some requests. All requests by default.
	Enable Enabler
}

// TokenRefreshPlugin renews credentials when a request is rejected for auth
// reasons and resends it once. Concurrent failures share a single refresh.
// The resend re-runs the request interceptors so an interceptor that
// injects the token picks up the new one.
func TokenRefreshPlugin(opts TokenRefreshOptions) Plugin {
	group := singleflight.New[struct{}]()
	shouldRefresh := opts.ShouldRefresh
	if shouldRefresh == nil {
		shouldRefresh = func(err error) bool { return IsHTTPStatus(err, http.StatusUnauthorized) }
	}

	return func(next Adapter, c *Client) Adapter {
		refresh := func(ctx context.Context, cause error) error {
			_, err, shared := group.Do(ctx, "refresh", func() (struct{}, error) {
				return struct{}{}, opts.RefreshToken(ctx, cause)
			})
			if !shared {
				result := "success"
				if err != nil {
					result = "failure"
				}
				c.metrics.RecordTokenRefresh(result)
			}
			return err
		}

		return func(ctx context.Context, cfg *Config) (*Response, error) {
			if opts.RefreshToken == nil {
				return next(ctx, cfg)
			}
			if opts.Enable != nil {
				if on, ok := opts.Enable(cfg); ok && !on {
					return next(ctx, cfg)
				}
			}

			current := cfg
			if opts.IsTokenExpired != nil && opts.IsTokenExpired(cfg) {
				c.logPlugin("Token expired, refreshing before send", "requestID", cfg.RequestID())
				if err := refresh(ctx, nil); err != nil {
					return nil, fmt.Errorf("fetchkit: token refresh failed: %w", err)
				}
				fresh, err := c.Reintercept(ctx, cfg)
				if err != nil {
					return nil, err
				}
				current = fresh
			}

			resp, marked := next(ctx, current)
			err := unwrapIntercepted(marked)
			if err == nil || !shouldRefresh(err) {
				return resp, marked
			}

			c.logPlugin("Refreshing token after failure", "requestID", cfg.RequestID(), "error", err)
			if rerr := refresh(ctx, err); rerr != nil {
				return nil, fmt.Errorf("fetchkit: token refresh failed: %w (request error: %w)", rerr, err)
			}

			fresh, ierr := c.Reintercept(ctx, cfg)
			if ierr != nil {
				return nil, ierr
			}
			return next(ctx, fresh)
		}
	}
}
