// Package mock answers fetchkit requests from registered handlers instead
// of the network.
//
//	m := mock.New(client, mock.Options{})
//	m.OnGet("/users", mock.WithParams(map[string]any{"page": 1})).
//		Reply(200, []map[string]any{{"id": 1}})
//
// The mock sits directly around the transport, so plugins registered on the
// client (cache, retry, dedupe) run against mocked responses.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/fetchkit"
)

// NoMatch selects what happens to a request no handler accepts.
type NoMatch int

const (
	// NotFound fails unmatched requests with a 404 HTTP error.
	NotFound NoMatch = iota
	// PassThrough sends unmatched requests to the real transport.
	PassThrough
)

// ErrNetwork is the cause of errors produced by Handler.NetworkError.
var ErrNetwork = errors.New("mock: network error")

// Options configures a Mock.
type Options struct {
	// Delay is applied before every mocked reply.
	Delay time.Duration
	// OnNoMatch defaults to NotFound.
	OnNoMatch NoMatch
}

// Mock routes requests of one client to handlers. It is safe for concurrent
// use.
type Mock struct {
	client   *fetchkit.Client
	pluginID int
	opts     Options

	mu       sync.Mutex
	handlers []*Handler
	history  map[string][]*fetchkit.Config
}

// New installs a mock on client. Call Restore to remove it.
func New(client *fetchkit.Client, opts Options) *Mock {
	m := &Mock{
		client:  client,
		opts:    opts,
		history: map[string][]*fetchkit.Config{},
	}
	m.pluginID = client.Plugins.UseInnermost(m.plugin)
	return m
}

// OnGet registers a handler for GET requests. url is a string (matched
// against the request URL with or without the base URL) or a
// *regexp.Regexp.
func (m *Mock) OnGet(url any, matchers ...RequestMatcher) *Handler {
	return m.on(http.MethodGet, url, matchers)
}

func (m *Mock) OnPost(url any, matchers ...RequestMatcher) *Handler {
	return m.on(http.MethodPost, url, matchers)
}

func (m *Mock) OnPut(url any, matchers ...RequestMatcher) *Handler {
	return m.on(http.MethodPut, url, matchers)
}

func (m *Mock) OnPatch(url any, matchers ...RequestMatcher) *Handler {
	return m.on(http.MethodPatch, url, matchers)
}

func (m *Mock) OnDelete(url any, matchers ...RequestMatcher) *Handler {
	return m.on(http.MethodDelete, url, matchers)
}

func (m *Mock) OnHead(url any, matchers ...RequestMatcher) *Handler {
	return m.on(http.MethodHead, url, matchers)
}

func (m *Mock) OnOptions(url any, matchers ...RequestMatcher) *Handler {
	return m.on(http.MethodOptions, url, matchers)
}

// OnAny registers a handler for every method. A nil url matches any URL.
func (m *Mock) OnAny(url any, matchers ...RequestMatcher) *Handler {
	return m.on("", url, matchers)
}

func (m *Mock) on(method string, url any, matchers []RequestMatcher) *Handler {
	h := &Handler{mock: m, method: method, matchers: matchers}
	switch u := url.(type) {
	case nil:
	case string:
		h.url = u
	case *regexp.Regexp:
		h.pattern = u
	default:
		panic("mock: url must be a string or *regexp.Regexp")
	}
	return h
}

// History returns the requests received for method, oldest first.
func (m *Mock) History(method string) []*fetchkit.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fetchkit.Config(nil), m.history[strings.ToUpper(method)]...)
}

// Calls returns how many requests the mock has seen across all methods.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.history {
		n += len(h)
	}
	return n
}

// Reset drops every handler and the history.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.handlers = nil
	m.history = map[string][]*fetchkit.Config{}
	m.mu.Unlock()
}

// ResetHandlers drops every handler.
func (m *Mock) ResetHandlers() {
	m.mu.Lock()
	m.handlers = nil
	m.mu.Unlock()
}

// ResetHistory clears the recorded requests.
func (m *Mock) ResetHistory() {
	m.mu.Lock()
	m.history = map[string][]*fetchkit.Config{}
	m.mu.Unlock()
}

// Restore removes the mock from the client.
func (m *Mock) Restore() {
	m.client.Plugins.Eject(m.pluginID)
}

func (m *Mock) add(h *Handler) *Mock {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
	return m
}

// match returns the first handler accepting cfg and removes it when it
// only fires once.
func (m *Mock) match(cfg *fetchkit.Config) *Handler {
	m.mu.Lock()
	defer m.mu.Unlock()

	method := strings.ToUpper(cfg.Method)
	m.history[method] = append(m.history[method], cfg)

	for i, h := range m.handlers {
		if !h.matches(cfg) {
			continue
		}
		if h.once {
			m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
		}
		return h
	}
	return nil
}

func (m *Mock) plugin(next fetchkit.Adapter, _ *fetchkit.Client) fetchkit.Adapter {
	return func(ctx context.Context, cfg *fetchkit.Config) (*fetchkit.Response, error) {
		h := m.match(cfg)
		if h == nil {
			if m.opts.OnNoMatch == PassThrough {
				return next(ctx, cfg)
			}
			return nil, fetchkit.NewHTTPError(cfg, &fetchkit.Response{
				Status:     http.StatusNotFound,
				StatusText: http.StatusText(http.StatusNotFound),
				Config:     cfg,
			})
		}

		delay := m.opts.Delay
		if h.delay > 0 {
			delay = h.delay
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			}
		}

		return h.reply(ctx, cfg, next)
	}
}

// Result is a mocked reply.
type Result struct {
	Status int
	Data   any
	Header map[string]string
}

type replyKind int

const (
	replyImmediate replyKind = iota
	replyDeferred
	replyNetworkError
	replyTimeout
	replyPassThrough
)

// Handler is a registered route. Finish it with one of the reply methods,
// which register it and return the Mock for chaining.
type Handler struct {
	mock     *Mock
	method   string
	url      string
	pattern  *regexp.Regexp
	matchers []RequestMatcher
	delay    time.Duration
	once     bool

	kind   replyKind
	result Result
	fn     func(ctx context.Context, cfg *fetchkit.Config) (Result, error)
}

// Delay holds this handler's replies for d, overriding Options.Delay.
func (h *Handler) Delay(d time.Duration) *Handler {
	h.delay = d
	return h
}

// Reply answers with status and data. Statuses outside 2xx/3xx fail the
// request with an HTTP error carrying the response.
func (h *Handler) Reply(status int, data any, header ...map[string]string) *Mock {
	h.kind = replyImmediate
	h.result = Result{Status: status, Data: data, Header: firstHeader(header)}
	return h.mock.add(h)
}

// ReplyOnce is Reply for the next matching request only.
func (h *Handler) ReplyOnce(status int, data any, header ...map[string]string) *Mock {
	h.once = true
	return h.Reply(status, data, header...)
}

// ReplyFunc computes the reply per request. A returned error fails the
// request as is.
func (h *Handler) ReplyFunc(fn func(ctx context.Context, cfg *fetchkit.Config) (Result, error)) *Mock {
	h.kind = replyDeferred
	h.fn = fn
	return h.mock.add(h)
}

// ReplyFuncOnce is ReplyFunc for the next matching request only.
func (h *Handler) ReplyFuncOnce(fn func(ctx context.Context, cfg *fetchkit.Config) (Result, error)) *Mock {
	h.once = true
	return h.ReplyFunc(fn)
}

// NetworkError fails matching requests as if the connection broke.
func (h *Handler) NetworkError() *Mock {
	h.kind = replyNetworkError
	return h.mock.add(h)
}

func (h *Handler) NetworkErrorOnce() *Mock {
	h.once = true
	return h.NetworkError()
}

// Timeout fails matching requests with the timeout error for the request's
// Timeout.
func (h *Handler) Timeout() *Mock {
	h.kind = replyTimeout
	return h.mock.add(h)
}

func (h *Handler) TimeoutOnce() *Mock {
	h.once = true
	return h.Timeout()
}

// PassThrough sends matching requests to the real transport.
func (h *Handler) PassThrough() *Mock {
	h.kind = replyPassThrough
	return h.mock.add(h)
}

func (h *Handler) PassThroughOnce() *Mock {
	h.once = true
	return h.PassThrough()
}

func (h *Handler) reply(ctx context.Context, cfg *fetchkit.Config, next fetchkit.Adapter) (*fetchkit.Response, error) {
	switch h.kind {
	case replyNetworkError:
		return nil, fetchkit.NewNetworkError(cfg, ErrNetwork)
	case replyTimeout:
		return nil, fetchkit.NewTimeoutError(cfg, cfg.Timeout)
	case replyPassThrough:
		return next(ctx, cfg)
	case replyDeferred:
		r, err := h.fn(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return respond(cfg, r)
	}
	return respond(cfg, h.result)
}

func respond(cfg *fetchkit.Config, r Result) (*fetchkit.Response, error) {
	resp := &fetchkit.Response{
		Status:     r.Status,
		StatusText: http.StatusText(r.Status),
		Config:     cfg,
	}
	for name, value := range r.Header {
		resp.Header.Set(name, value)
	}

	switch v := r.Data.(type) {
	case nil:
	case string:
		resp.Body = []byte(v)
	case []byte:
		resp.Body = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		resp.Body = b
		if !resp.Header.Has("Content-Type") {
			resp.Header.Set("Content-Type", "application/json")
		}
	}

	switch cfg.ResponseType {
	case fetchkit.ResponseText:
		resp.Data = string(resp.Body)
	case fetchkit.ResponseBytes:
		resp.Data = resp.Body
	default:
		resp.Data = r.Data
	}
	if cfg.Method == http.MethodHead {
		resp.Data = nil
		resp.Body = nil
	}

	if r.Status < 200 || r.Status >= 400 {
		return nil, fetchkit.NewHTTPError(cfg, resp)
	}
	return resp, nil
}

func firstHeader(h []map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
