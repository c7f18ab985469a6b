package mock

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/ambiyansyah-risyal/fetchkit"
)

// Matcher is an asymmetric matcher: it can stand in for any expected value
// inside WithParams, WithData and WithHeaders.
type Matcher interface {
	Match(actual any) bool
}

// Func adapts fn to a Matcher.
type Func func(actual any) bool

// Match implements Matcher.
func (f Func) Match(actual any) bool { return f(actual) }

// Any matches every value that is present.
func Any() Matcher {
	return Func(func(actual any) bool { return actual != nil })
}

// Containing matches strings holding want as a substring, maps holding
// every entry of want, and slices holding want as an element.
func Containing(want any) Matcher {
	return Func(func(actual any) bool {
		if s, ok := want.(string); ok {
			if a, ok := actual.(string); ok {
				return strings.Contains(a, s)
			}
		}
		if w, ok := want.(map[string]any); ok {
			return subset(w, normalize(actual))
		}
		if items, ok := normalize(actual).([]any); ok {
			for _, item := range items {
				if equal(want, item) {
					return true
				}
			}
		}
		return false
	})
}

// RequestMatcher narrows a handler beyond method and URL.
type RequestMatcher func(cfg *fetchkit.Config) bool

// WithParams requires every entry of want to be among the request's query
// params. Values compare loosely, so 1 matches "1".
func WithParams(want map[string]any) RequestMatcher {
	return func(cfg *fetchkit.Config) bool {
		got := map[string]any{}
		for k, v := range fetchkit.DecodeQuery(queryOf(cfg.URL)) {
			got[k] = v
		}
		for k, v := range cfg.Params {
			got[k] = v
		}
		return subset(want, got)
	}
}

// WithData requires the request payload to match want. A map is matched
// as a subset; anything else must be equal or a Matcher. For GET-like
// requests the payload has already been moved into the params.
func WithData(want any) RequestMatcher {
	return func(cfg *fetchkit.Config) bool {
		actual := cfg.Data
		if actual == nil && cfg.IsGetLike() {
			actual = cfg.Params
		}
		if actual == nil && len(cfg.Body) > 0 {
			var decoded any
			if json.Unmarshal(cfg.Body, &decoded) == nil {
				actual = decoded
			} else {
				actual = string(cfg.Body)
			}
		}
		if w, ok := want.(map[string]any); ok {
			return subset(w, normalize(actual))
		}
		return equal(want, actual)
	}
}

// WithHeaders requires each named header to match. Values are strings or
// Matchers.
func WithHeaders(want map[string]any) RequestMatcher {
	return func(cfg *fetchkit.Config) bool {
		for name, w := range want {
			if !cfg.Header.Has(name) {
				return false
			}
			if !equal(w, cfg.Header.Get(name)) {
				return false
			}
		}
		return true
	}
}

func (h *Handler) matches(cfg *fetchkit.Config) bool {
	if h.method != "" && !strings.EqualFold(h.method, cfg.Method) {
		return false
	}
	if !h.matchURL(cfg) {
		return false
	}
	for _, m := range h.matchers {
		if !m(cfg) {
			return false
		}
	}
	return true
}

func (h *Handler) matchURL(cfg *fetchkit.Config) bool {
	switch {
	case h.pattern != nil:
		return h.pattern.MatchString(cfg.FullURL()) || h.pattern.MatchString(cfg.URL)
	case h.url == "":
		return true
	}

	path, query, _ := strings.Cut(h.url, "?")
	if path != pathOf(cfg.ResolvedURL()) && path != pathOf(cfg.URL) {
		return false
	}
	if query == "" {
		return true
	}

	got := fetchkit.DecodeQuery(queryOf(cfg.FullURL()))
	for k, v := range fetchkit.DecodeQuery(query) {
		if got[k] != v {
			return false
		}
	}
	return true
}

func pathOf(u string) string {
	path, _, _ := strings.Cut(u, "?")
	return path
}

func queryOf(u string) string {
	_, query, _ := strings.Cut(u, "?")
	return query
}

// subset reports whether every entry of want matches the same key in got.
func subset(want map[string]any, got any) bool {
	m, ok := got.(map[string]any)
	if !ok {
		return len(want) == 0
	}
	for k, w := range want {
		v, ok := m[k]
		if !ok {
			return false
		}
		if !equal(w, v) {
			return false
		}
	}
	return true
}

func equal(want, actual any) bool {
	if m, ok := want.(Matcher); ok {
		return m.Match(actual)
	}
	if w, ok := want.(map[string]any); ok {
		return subset(w, normalize(actual))
	}
	if reflect.DeepEqual(want, actual) {
		return true
	}
	if want == nil || actual == nil {
		return false
	}
	if reflect.DeepEqual(normalize(want), normalize(actual)) {
		return true
	}
	return isScalar(want) && isScalar(actual) && fmt.Sprint(want) == fmt.Sprint(actual)
}

// normalize turns structs and typed maps or slices into the generic shapes
// encoding/json produces, so they compare with map[string]any literals.
func normalize(v any) any {
	switch v.(type) {
	case nil, map[string]any, []any, string, bool:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if json.Unmarshal(b, &out) != nil {
		return v
	}
	return out
}

func isScalar(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
