package fetchkit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Profile is a client setup loaded from YAML.
type Profile struct {
	BaseURL      string            `yaml:"base_url"`
	Timeout      time.Duration     `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers"`
	Params       map[string]any    `yaml:"params"`
	ResponseType ResponseType      `yaml:"response_type"`
	HTTP2        bool              `yaml:"http2"`
	Debug        bool              `yaml:"debug"`

	Cache          CacheProfile          `yaml:"cache"`
	ErrorCache     ErrorCacheProfile     `yaml:"error_cache"`
	Retry          RetryProfile          `yaml:"retry"`
	Dedupe         ToggleProfile         `yaml:"dedupe"`
	Throttle       ThrottleProfile       `yaml:"throttle"`
	RateLimit      RateLimitProfile      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerProfile `yaml:"circuit_breaker"`
}

type ToggleProfile struct {
	Enabled bool `yaml:"enabled"`
}

type CacheProfile struct {
	Enabled  bool          `yaml:"enabled"`
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
	// HonorCacheControl respects the server's Cache-Control and Expires.
	HonorCacheControl bool `yaml:"honor_cache_control"`
}

type ErrorCacheProfile struct {
	Enabled    bool `yaml:"enabled"`
	CacheFirst bool `yaml:"cache_first"`
}

type RetryProfile struct {
	Enabled     bool          `yaml:"enabled"`
	Times       int           `yaml:"times"`
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	// Backoff is "fixed", "exponential" or "decorrelated".
	Backoff         string `yaml:"backoff"`
	HonorRetryAfter bool   `yaml:"honor_retry_after"`
	// TransientOnly limits retries to transient failures of idempotent
	// requests.
	TransientOnly bool `yaml:"transient_only"`
}

type ThrottleProfile struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold time.Duration `yaml:"threshold"`
}

type RateLimitProfile struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type CircuitBreakerProfile struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// DefaultProfile returns the values a profile file starts from.
func DefaultProfile() *Profile {
	return &Profile{
		Cache: CacheProfile{
			Capacity: defaultCacheCapacity,
			TTL:      defaultCacheTTL,
		},
		Retry: RetryProfile{
			Times:       defaultRetryTimes,
			MaxInterval: 10 * time.Second,
			Backoff:     "fixed",
		},
		Throttle: ThrottleProfile{
			Threshold: defaultThrottleThreshold,
		},
		RateLimit: RateLimitProfile{
			Burst: 1,
		},
	}
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	if err := p.validate(); err != nil {
		return nil, &Error{
			Type:    ErrorTypeValidation,
			Message: "invalid profile",
			Cause:   err,
		}
	}
	return p, nil
}

func (p *Profile) validate() error {
	var errs []error

	if p.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be non-negative"))
	}
	if p.Cache.Enabled && p.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity must be positive"))
	}
	if p.Retry.Times < 0 {
		errs = append(errs, errors.New("retry.times must be non-negative"))
	}
	switch p.Retry.Backoff {
	case "", "fixed", "exponential", "decorrelated":
	default:
		errs = append(errs, fmt.Errorf("retry.backoff %q is not one of fixed, exponential, decorrelated", p.Retry.Backoff))
	}
	if p.RateLimit.Enabled && p.RateLimit.RPS <= 0 {
		errs = append(errs, errors.New("rate_limit.rps must be positive"))
	}
	if p.CircuitBreaker.FailureThreshold < 0 || p.CircuitBreaker.SuccessThreshold < 0 {
		errs = append(errs, errors.New("circuit_breaker thresholds must be non-negative"))
	}
	switch p.ResponseType {
	case ResponseAuto, ResponseJSON, ResponseText, ResponseBytes, ResponseStream:
	default:
		errs = append(errs, fmt.Errorf("unknown response_type %q", p.ResponseType))
	}

	return errors.Join(errs...)
}

// Options translates the profile into client options. Plugins are
// registered innermost first: rate limit, circuit breaker, retry, dedupe,
// throttle, cache, error cache.
func (p *Profile) Options() []Option {
	defaults := &Config{
		BaseURL:      p.BaseURL,
		Timeout:      p.Timeout,
		Params:       p.Params,
		ResponseType: p.ResponseType,
	}
	for name, value := range p.Headers {
		defaults.Header.Set(name, value)
	}

	opts := []Option{WithDefaults(defaults)}
	if p.HTTP2 {
		opts = append(opts, WithHTTP2(TransportConfig{}))
	}
	if p.Debug {
		opts = append(opts, WithSimpleLogger())
	}

	var plugins []Plugin
	if p.RateLimit.Enabled {
		plugins = append(plugins, RateLimitPlugin(RateLimitOptions{
			Limit: rate.Limit(p.RateLimit.RPS),
			Burst: p.RateLimit.Burst,
		}))
	}
	if p.CircuitBreaker.Enabled {
		plugins = append(plugins, CircuitBreakerPlugin(CircuitBreakerConfig{
			FailureThreshold: p.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  p.CircuitBreaker.RecoveryTimeout,
			SuccessThreshold: p.CircuitBreaker.SuccessThreshold,
		}))
	}
	if p.Retry.Enabled {
		plugins = append(plugins, RetryPlugin(p.Retry.options()))
	}
	if p.Dedupe.Enabled {
		plugins = append(plugins, DedupePlugin(DedupeOptions{}))
	}
	if p.Throttle.Enabled {
		plugins = append(plugins, ThrottlePlugin(ThrottleOptions{Threshold: p.Throttle.Threshold}))
	}
	if p.Cache.Enabled {
		plugins = append(plugins, CachePlugin(CacheOptions{
			Store:             NewLRUStore(p.Cache.Capacity, p.Cache.TTL),
			HonorCacheControl: p.Cache.HonorCacheControl,
		}))
	}
	if p.ErrorCache.Enabled {
		plugins = append(plugins, ErrorCachePlugin(ErrorCacheOptions{UseCacheFirst: p.ErrorCache.CacheFirst}))
	}
	if len(plugins) > 0 {
		opts = append(opts, WithPlugins(plugins...))
	}

	return opts
}

func (r RetryProfile) options() RetryOptions {
	opts := RetryOptions{RetryTimes: r.Times, RetryInterval: r.Interval, HonorRetryAfter: r.HonorRetryAfter}
	if r.TransientOnly {
		opts.ShouldRetry = RetryTransient
	}
	initial := r.Interval
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	switch r.Backoff {
	case "exponential":
		opts.IntervalFunc = ExponentialBackoff(initial, r.MaxInterval, 2, 0.1)
	case "decorrelated":
		opts.IntervalFunc = DecorrelatedBackoff(initial, r.MaxInterval)
	}
	return opts
}

// NewFromProfile loads path and builds a client from it. Extra options are
// applied after the profile's own.
func NewFromProfile(path string, options ...Option) (*Client, error) {
	p, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	return New(append(p.Options(), options...)...), nil
}
