package fetchkit

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ResponseType selects how the response body is decoded.
type ResponseType string

const (
	// ResponseAuto reads the body as text and decodes it as JSON when possible.
	ResponseAuto   ResponseType = ""
	ResponseJSON   ResponseType = "json"
	ResponseText   ResponseType = "text"
	ResponseBytes  ResponseType = "bytes"
	ResponseStream ResponseType = "stream"
)

// Adapter performs (or simulates) one HTTP exchange.
type Adapter func(ctx context.Context, cfg *Config) (*Response, error)

// Plugin wraps an adapter with extra behavior. c is the client that owns the
// pipeline the plugin was registered on.
type Plugin func(next Adapter, c *Client) Adapter

// EncoderFunc serializes params or body data into a query-string fragment.
type EncoderFunc func(value any) string

// ProgressFunc receives transferred and total byte counts. total is -1 when
// the size is unknown.
type ProgressFunc func(transferred, total int64)

// Enabler decides whether a plugin applies to a request. When ok is false the
// plugin falls back to its default, which is "only GET-like requests".
type Enabler func(cfg *Config) (enabled, ok bool)

// Bool returns an Enabler that always answers b.
func Bool(b bool) Enabler {
	return func(*Config) (bool, bool) { return b, true }
}

// enabled resolves the per-request enabler first, then the plugin-level one,
// then the GET-like default.
func enabled(cfg *Config, enablers ...Enabler) bool {
	for _, e := range enablers {
		if e == nil {
			continue
		}
		if v, ok := e(cfg); ok {
			return v
		}
		break
	}
	return cfg.IsGetLike()
}

// Config describes one HTTP call. A Config is also used as the client-wide
// defaults that every call is merged onto.
type Config struct {
	URL     string
	Method  string
	BaseURL string
	Header  Header
	Params  map[string]any

	// Data is the request payload before serialization. Maps and structs are
	// encoded per Content-Type; string, []byte and io.Reader are sent verbatim.
	Data any
	// Body is the wire payload produced by the default request interceptor.
	Body []byte

	Timeout      time.Duration
	ResponseType ResponseType
	// IsGet opts a non-GET request into GET-like plugin defaults and moves map
	// data into the query string.
	IsGet   bool
	Encoder EncoderFunc

	EnableCache       Enabler
	ForceUpdate       bool
	EnableErrorCache  Enabler
	UseCacheFirst     bool
	EnableRetry       Enabler
	RetryTimes        int
	RetryInterval     time.Duration
	EnableDedupe      Enabler
	EnableThrottle    Enabler
	ThrottleThreshold time.Duration

	OnUploadProgress   ProgressFunc
	OnDownloadProgress ProgressFunc

	// Extra carries values for user-defined plugins and interceptors.
	Extra map[string]any

	origin *Config
	state  *callState
}

// callState is shared by every config derived from one logical call.
type callState struct {
	requestID         string
	responseProcessed atomic.Bool
}

// Clone returns a copy of c that shares no mutable maps with it.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := *c
	out.Header = c.Header.Clone()
	out.Params = cloneMap(c.Params)
	out.Extra = maps.Clone(c.Extra)
	if m, ok := c.Data.(map[string]any); ok {
		out.Data = cloneMap(m)
	}
	if c.Body != nil {
		out.Body = append([]byte(nil), c.Body...)
	}
	return &out
}

// IsGetLike reports whether the request reads rather than writes.
func (c *Config) IsGetLike() bool {
	if c.IsGet {
		return true
	}
	switch strings.ToUpper(c.Method) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// RequestID returns the identifier assigned to the logical call, if any.
func (c *Config) RequestID() string {
	if c.state == nil {
		return ""
	}
	return c.state.requestID
}

// ResolvedURL joins BaseURL and URL without the query params.
func (c *Config) ResolvedURL() string {
	return joinURL(c.BaseURL, c.URL)
}

// FullURL is the URL sent on the wire: ResolvedURL plus encoded Params.
func (c *Config) FullURL() string {
	u := c.ResolvedURL()
	if len(c.Params) == 0 {
		return u
	}
	q := c.encoder()(c.Params)
	if q == "" {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + q
	}
	return u + "?" + q
}

func (c *Config) encoder() EncoderFunc {
	if c.Encoder != nil {
		return c.Encoder
	}
	return defaultEncoder
}

func (c *Config) responseProcessed() bool {
	return c.state != nil && c.state.responseProcessed.Load()
}

func (c *Config) markResponseProcessed() {
	if c.state != nil {
		c.state.responseProcessed.Store(true)
	}
}

// Response is the result of a successful call.
type Response struct {
	Data       any
	Body       []byte
	Status     int
	StatusText string
	Header     Header
	Config     *Config
	Raw        *http.Response

	FromCache bool
	CacheTime time.Time
	CacheKey  string
	Throttled bool
	// Err is the failure that an error-cache fallback is standing in for.
	Err error

	Extra map[string]any

	// set once the response interceptors have run over this value; copies
	// handed out by cache, dedupe and throttle keep it
	intercepted bool
}

// Clone returns a shallow copy with its own Header and Extra.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	out.Extra = maps.Clone(r.Extra)
	return &out
}

// Decode unmarshals the raw JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// RequestInterceptor transforms a request before dispatch.
type RequestInterceptor func(ctx context.Context, cfg *Config) (*Config, error)

// ResponseFulfilled transforms a successful response.
type ResponseFulfilled func(ctx context.Context, resp *Response) (*Response, error)

// ResponseRejected handles a failure. Returning a response recovers the call.
type ResponseRejected func(ctx context.Context, err error) (*Response, error)

// Option configures a Client.
type Option func(*Client)

func joinURL(base, u string) string {
	if base == "" || isAbsoluteURL(u) {
		return u
	}
	if u == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(u, "/")
}

func isAbsoluteURL(u string) bool {
	if strings.HasPrefix(u, "//") {
		return true
	}
	i := strings.Index(u, "://")
	if i <= 0 {
		return false
	}
	for _, r := range u[:i] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}
