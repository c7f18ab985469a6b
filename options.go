package fetchkit

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WithDefaults merges cfg into the client's default request config.
func WithDefaults(cfg *Config) Option {
	return func(c *Client) {
		c.defaults = MergeConfig(c.defaults, cfg)
	}
}

// WithBaseURL sets the base URL relative request URLs resolve against.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.defaults.BaseURL = base
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.defaults.Timeout = d
	}
}

// WithHeader sets a default request header.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		c.defaults.Header.Set(name, value)
	}
}

// WithParams merges default query params.
func WithParams(params map[string]any) Option {
	return func(c *Client) {
		c.defaults.Params = mergeMaps(c.defaults.Params, params)
	}
}

// WithEncoder sets the default params encoder.
func WithEncoder(enc EncoderFunc) Option {
	return func(c *Client) {
		c.defaults.Encoder = enc
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTransport sets the round tripper used by the HTTP client.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Transport = rt
		c.httpClient = &hc
	}
}

// WithPlugins registers plugins in order; the last one is outermost.
func WithPlugins(plugins ...Plugin) Option {
	return func(c *Client) {
		for _, p := range plugins {
			c.Plugins.Use(p)
		}
	}
}

// WithRequestInterceptor registers a request interceptor.
func WithRequestInterceptor(fn RequestInterceptor) Option {
	return func(c *Client) {
		c.Interceptors.Request.Use(fn)
	}
}

// WithResponseInterceptor registers a response interceptor pair.
func WithResponseInterceptor(onFulfilled ResponseFulfilled, onRejected ResponseRejected) Option {
	return func(c *Client) {
		c.Interceptors.Response.Use(onFulfilled, onRejected)
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging to stderr
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithRequestIDHeader sends each call's request ID in the named header.
func WithRequestIDHeader(name string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDHeader = name
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errs []error

	errs = append(errs, c.validateDefaults()...)
	errs = append(errs, c.validateDebugConfig()...)

	if c.httpClient == nil {
		errs = append(errs, errors.New("HTTP client cannot be nil"))
	}

	if len(errs) > 0 {
		return &Error{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   errors.Join(errs...),
		}
	}

	return nil
}

func (c *Client) validateDefaults() []error {
	var errs []error
	d := c.defaults

	if d == nil {
		return []error{errors.New("default config cannot be nil")}
	}
	if d.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be non-negative"))
	}
	if d.Timeout > time.Hour {
		errs = append(errs, fmt.Errorf("timeout %v exceeds one hour", d.Timeout))
	}
	if d.RetryTimes < 0 {
		errs = append(errs, errors.New("retryTimes must be non-negative"))
	}
	if d.RetryTimes > 100 {
		errs = append(errs, errors.New("retryTimes > 100 may cause excessive resource usage"))
	}
	if d.RetryInterval < 0 || d.ThrottleThreshold < 0 {
		errs = append(errs, errors.New("durations must be non-negative"))
	}
	if d.BaseURL != "" {
		u, err := url.Parse(d.BaseURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid base URL: %w", err))
		} else if !u.IsAbs() {
			errs = append(errs, fmt.Errorf("base URL %q must be absolute", d.BaseURL))
		}
	}
	switch d.ResponseType {
	case ResponseAuto, ResponseJSON, ResponseText, ResponseBytes, ResponseStream:
	default:
		errs = append(errs, fmt.Errorf("unknown response type %q", d.ResponseType))
	}

	return errs
}

func (c *Client) validateDebugConfig() []error {
	var errs []error

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errs = append(errs, errors.New("debug RequestIDGen must be set when debug is enabled"))
		}
		if c.logger == nil {
			errs = append(errs, errors.New("logger must be set when debug is enabled"))
		}
	}

	return errs
}

// IsValid reports whether construction-time validation passed.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the construction-time validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
