package fetchkit

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Client issues HTTP requests through request interceptors, a plugin
// pipeline and response interceptors. It is safe for concurrent use once
// configured; interceptors and plugins may be registered at any time and
// apply to calls started afterwards.
type Client struct {
	Interceptors Interceptors
	Plugins      Plugins

	defaults        *Config
	httpClient      *http.Client
	logger          Logger
	debug           *DebugConfig
	metrics         *MetricsCollector
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		defaults:   &Config{},
		httpClient: &http.Client{},
		debug:      DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Create builds a Client whose every request starts from defaults.
func Create(defaults *Config, options ...Option) *Client {
	return New(slices.Concat([]Option{WithDefaults(defaults)}, options)...)
}

// Defaults returns a copy of the client's default request config.
func (c *Client) Defaults() *Config {
	return c.defaults.Clone()
}

// Request merges configs onto the client defaults and executes the call.
func (c *Client) Request(ctx context.Context, configs ...*Config) (*Response, error) {
	merged := MergeConfig(slices.Concat([]*Config{c.defaults}, configs)...)
	merged.state = &callState{requestID: c.newRequestID()}

	method := strings.ToUpper(merged.Method)
	if method == "" {
		method = http.MethodGet
	}
	endpoint := endpointOf(merged)
	start := time.Now()

	c.logRequest("Starting request", "requestID", merged.RequestID(), "method", method, "url", merged.ResolvedURL())
	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	resp, err := c.execute(ctx, merged)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.Status
	} else if e, ok := AsError(err); ok {
		status = e.Status()
	}
	c.metrics.RecordRequest(method, endpoint, status, duration)

	if err != nil {
		errType := "Unknown"
		if e, ok := AsError(err); ok {
			errType = string(e.Type)
		}
		c.metrics.RecordError(errType, method, endpoint)
		c.logRequest("Request failed", "requestID", merged.RequestID(), "method", method, "url", merged.ResolvedURL(), "duration", duration, "error", err)
		return nil, err
	}

	c.logRequest("Request completed", "requestID", merged.RequestID(), "method", method, "url", merged.ResolvedURL(), "status", status, "duration", duration, "fromCache", resp.FromCache)
	return resp, nil
}

func (c *Client) execute(ctx context.Context, origin *Config) (*Response, error) {
	cfg, err := c.interceptRequest(ctx, origin)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeoutCause(ctx, cfg.Timeout, NewTimeoutError(cfg, cfg.Timeout))
		defer cancel()
	}

	resp, err := c.dispatch(callCtx, cfg)

	if cfg.responseProcessed() || (err == nil && cfg.Method == http.MethodHead) {
		return resp, unwrapIntercepted(err)
	}
	resp, err = c.interceptOnce(ctx, resp, err)
	return resp, unwrapIntercepted(err)
}

// interceptOnce folds an outcome through the response interceptors unless
// an earlier pass already marked it. The result is marked, so plugins that
// share it with other calls do not have it intercepted twice.
func (c *Client) interceptOnce(ctx context.Context, resp *Response, err error) (*Response, error) {
	if err != nil {
		if _, ok := err.(*interceptedError); ok {
			return nil, err
		}
	} else if resp != nil && resp.intercepted {
		return resp, nil
	}

	resp, err = c.Interceptors.Response.apply(ctx, resp, err)
	if err != nil {
		return nil, markIntercepted(err)
	}
	if resp != nil {
		resp = resp.Clone()
		resp.intercepted = true
	}
	return resp, nil
}

// interceptRequest runs the default interceptor and then the registered
// request interceptors over origin. The result remembers origin so plugins
// can re-run this stage for a resend.
func (c *Client) interceptRequest(ctx context.Context, origin *Config) (*Config, error) {
	cfg, err := DefaultRequestInterceptor(ctx, origin)
	if err != nil {
		return nil, err
	}

	for _, fn := range c.Interceptors.Request.reg.snapshot() {
		next, err := fn(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if next != nil {
			cfg = next
		}
	}

	if cfg.Params == nil {
		cfg.Params = map[string]any{}
	}
	cfg.origin = origin
	cfg.state = origin.state
	return cfg, nil
}

// Reintercept runs the request interceptors again over the config the call
// started from. Plugins use it before resending a request so interceptors
// can inject fresh state such as a renewed token.
func (c *Client) Reintercept(ctx context.Context, cfg *Config) (*Config, error) {
	origin := cfg.origin
	if origin == nil {
		origin = cfg
	}
	return c.interceptRequest(ctx, origin)
}

// timeoutGrace bounds how long a timed-out call waits for the plugin chain
// to settle before the timeout error wins.
const timeoutGrace = 50 * time.Millisecond

type dispatchResult struct {
	resp     *Response
	err      error
	panicked any
}

// dispatch runs the plugin chain. The chain runs on its own goroutine so a
// cancelled ctx settles the call at once; a late result lands in the
// buffered channel and is dropped.
func (c *Client) dispatch(ctx context.Context, cfg *Config) (*Response, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	adapter := c.Plugins.compose(c.transport, c)
	done := make(chan dispatchResult, 1)

	go func() {
		var r dispatchResult
		defer func() {
			if p := recover(); p != nil {
				r.panicked = p
			}
			done <- r
		}()
		r.resp, r.err = adapter(ctx, cfg)
	}()

	select {
	case r := <-done:
		return r.unwrap()
	case <-ctx.Done():
	}

	// prefer a result that is already there
	select {
	case r := <-done:
		return r.settle(ctx)
	default:
	}

	// On the call's own timeout the chain gets a moment to turn the
	// rejection into a result, e.g. an error-cache fallback. Caller
	// cancellation settles at once.
	var te *TimeoutError
	if errors.As(context.Cause(ctx), &te) {
		grace := time.NewTimer(timeoutGrace)
		defer grace.Stop()
		select {
		case r := <-done:
			return r.settle(ctx)
		case <-grace.C:
		}
	}
	return nil, context.Cause(ctx)
}

// settle returns a result that arrived after ctx was done. Bare context
// errors are replaced by the context's cause.
func (r dispatchResult) settle(ctx context.Context) (*Response, error) {
	resp, err := r.unwrap()
	if err == nil || !errors.Is(err, ctx.Err()) {
		return resp, err
	}
	if _, ok := err.(*interceptedError); ok {
		return nil, markIntercepted(context.Cause(ctx))
	}
	return nil, context.Cause(ctx)
}

func (r dispatchResult) unwrap() (*Response, error) {
	if r.panicked != nil {
		panic(r.panicked)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.resp, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return c.Request(ctx, withCall(configs, url, http.MethodGet, nil)...)
}

// Head issues a HEAD request. The response carries no data.
func (c *Client) Head(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return c.Request(ctx, withCall(configs, url, http.MethodHead, nil)...)
}

// Options issues an OPTIONS request.
func (c *Client) Options(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return c.Request(ctx, withCall(configs, url, http.MethodOptions, nil)...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return c.Request(ctx, withCall(configs, url, http.MethodDelete, nil)...)
}

// Post issues a POST request with data as the body.
func (c *Client) Post(ctx context.Context, url string, data any, configs ...*Config) (*Response, error) {
	return c.Request(ctx, withCall(configs, url, http.MethodPost, data)...)
}

// Put issues a PUT request with data as the body.
func (c *Client) Put(ctx context.Context, url string, data any, configs ...*Config) (*Response, error) {
	return c.Request(ctx, withCall(configs, url, http.MethodPut, data)...)
}

// Patch issues a PATCH request with data as the body.
func (c *Client) Patch(ctx context.Context, url string, data any, configs ...*Config) (*Response, error) {
	return c.Request(ctx, withCall(configs, url, http.MethodPatch, data)...)
}

func withCall(configs []*Config, url, method string, data any) []*Config {
	return slices.Concat(configs, []*Config{{URL: url, Method: method, Data: data}})
}

// Default is the shared client behind the package-level shorthands.
var Default = New()

// Request executes a call on Default.
func Request(ctx context.Context, configs ...*Config) (*Response, error) {
	return Default.Request(ctx, configs...)
}

// Get issues a GET request on Default.
func Get(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return Default.Get(ctx, url, configs...)
}

// Head issues a HEAD request on Default.
func Head(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return Default.Head(ctx, url, configs...)
}

// Options issues an OPTIONS request on Default.
func Options(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return Default.Options(ctx, url, configs...)
}

// Delete issues a DELETE request on Default.
func Delete(ctx context.Context, url string, configs ...*Config) (*Response, error) {
	return Default.Delete(ctx, url, configs...)
}

// Post issues a POST request on Default.
func Post(ctx context.Context, url string, data any, configs ...*Config) (*Response, error) {
	return Default.Post(ctx, url, data, configs...)
}

// Put issues a PUT request on Default.
func Put(ctx context.Context, url string, data any, configs ...*Config) (*Response, error) {
	return Default.Put(ctx, url, data, configs...)
}

// Patch issues a PATCH request on Default.
func Patch(ctx context.Context, url string, data any, configs ...*Config) (*Response, error) {
	return Default.Patch(ctx, url, data, configs...)
}
