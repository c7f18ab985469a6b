package fetchkit

import (
	"context"
	"time"

	"github.com/ambiyansyah-risyal/fetchkit/internal/backoff"
)

const defaultRetryTimes = 2

// RetryIntervalFunc computes the wait before retry number attempt (1-based).
type RetryIntervalFunc func(attempt int, cfg *Config, err error) time.Duration

// RetryOptions configures RetryPlugin.
type RetryOptions struct {
	// Enable is the plugin-wide default; Config.EnableRetry overrides it.
	Enable Enabler
	// RetryTimes defaults to 2. Config.RetryTimes overrides it.
	RetryTimes int
	// RetryInterval is a fixed wait between attempts. Config.RetryInterval
	// overrides it.
	RetryInterval time.Duration
	// IntervalFunc takes precedence over RetryInterval when set.
	IntervalFunc RetryIntervalFunc
	// ShouldRetry filters which failures are retried. All are by default.
	ShouldRetry func(cfg *Config, err error) bool
	// OnRetry runs before each resend.
	OnRetry func(cfg *Config, err error, attempt int)
	// HonorRetryAfter waits as long as a 429 or 503 response's Retry-After
	// header asks when that is longer than the computed interval.
	HonorRetryAfter bool
	// Budget, when set, is shared by every request of the plugin and stops
	// retrying once exhausted.
	Budget *RetryBudget
}

// ExponentialBackoff returns an interval func growing by multiplier from
// initial up to max, with up to jitter (0..1) added at random.
func ExponentialBackoff(initial, max time.Duration, multiplier, jitter float64) RetryIntervalFunc {
	p := backoff.Params{Initial: initial, Max: max, Multiplier: multiplier, Jitter: jitter}
	return func(attempt int, _ *Config, _ error) time.Duration {
		return backoff.Exponential{}.Delay(attempt, p)
	}
}

// DecorrelatedBackoff returns an interval func picking a random wait between
// initial and an exponentially growing ceiling capped at max.
func DecorrelatedBackoff(initial, max time.Duration) RetryIntervalFunc {
	p := backoff.Params{Initial: initial, Max: max}
	return func(attempt int, _ *Config, _ error) time.Duration {
		return backoff.Decorrelated{}.Delay(attempt, p)
	}
}

// RetryPlugin resends failed requests. Every resend runs the request
// interceptors again over the original config, so interceptors can refresh
// credentials. The response interceptors are applied to each attempt by the
// plugin itself and the client skips its own pass for the call.
func RetryPlugin(opts RetryOptions) Plugin {
	return func(next Adapter, c *Client) Adapter {
		return func(ctx context.Context, cfg *Config) (*Response, error) {
			if !enabled(cfg, cfg.EnableRetry, opts.Enable) {
				return next(ctx, cfg)
			}

			maxRetries := opts.RetryTimes
			if cfg.RetryTimes != 0 {
				maxRetries = cfg.RetryTimes
			}
			if maxRetries == 0 {
				maxRetries = defaultRetryTimes
			}

			defer cfg.markResponseProcessed()

			current := cfg
			for attempt := 0; ; attempt++ {
				resp, marked := next(ctx, current)
				resp, marked = c.interceptOnce(ctx, resp, marked)
				if marked == nil {
					return resp, nil
				}
				err := unwrapIntercepted(marked)

				if attempt >= maxRetries || ctx.Err() != nil {
					return nil, marked
				}
				if opts.ShouldRetry != nil && !opts.ShouldRetry(current, err) {
					return nil, marked
				}
				if !opts.Budget.Allow() {
					c.logRetry("Retry budget exhausted", "requestID", cfg.RequestID(), "attempt", attempt+1)
					return nil, marked
				}

				wait := opts.interval(attempt+1, current, err)
				c.logRetry("Retrying request", "requestID", cfg.RequestID(), "attempt", attempt+1, "maxRetries", maxRetries, "wait", wait, "error", err)
				c.metrics.RecordRetry(cfg.Method, endpointOf(cfg), attempt+1)

				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}

				if opts.OnRetry != nil {
					opts.OnRetry(current, err, attempt+1)
				}

				fresh, rerr := c.Reintercept(ctx, cfg)
				if rerr != nil {
					return nil, rerr
				}
				current = fresh
			}
		}
	}
}

func (o RetryOptions) interval(attempt int, cfg *Config, err error) time.Duration {
	var d time.Duration
	switch {
	case o.IntervalFunc != nil:
		d = o.IntervalFunc(attempt, cfg, err)
	case cfg.RetryInterval > 0:
		d = cfg.RetryInterval
	default:
		d = o.RetryInterval
	}
	if o.HonorRetryAfter {
		if ra, ok := RetryAfter(err); ok && ra > d {
			d = ra
		}
	}
	return d
}

// sleep waits for d or until ctx is done, returning the context's cause.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
