package fetchkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ArrayFormat controls how slice elements are keyed.
type ArrayFormat int

const (
	// ArrayIndices renders key[0]=a&key[1]=b.
	ArrayIndices ArrayFormat = iota
	// ArrayRepeat renders key=a&key=b.
	ArrayRepeat
	// ArrayBrackets renders key[]=a&key[]=b.
	ArrayBrackets
)

// EncodeOptions tunes Encode.
type EncodeOptions struct {
	ArrayFormat ArrayFormat
	// AllowDots renders nested keys as a.b instead of a[b].
	AllowDots bool
	// Raw disables percent-encoding of keys and values.
	Raw bool
	// SerializeDate overrides the default ISO-8601 UTC rendering.
	SerializeDate func(time.Time) string
}

var defaultEncoder EncoderFunc = func(v any) string {
	return Encode(v, EncodeOptions{})
}

// NewEncoder returns an EncoderFunc bound to opts.
func NewEncoder(opts EncodeOptions) EncoderFunc {
	return func(v any) string { return Encode(v, opts) }
}

// Encode serializes a nested value into a query string. Map keys are sorted
// so equal inputs always produce equal output. nil values are skipped and a
// top-level nil, false or zero yields "".
func Encode(value any, opts EncodeOptions) string {
	if isFalsy(value) {
		return ""
	}
	e := encoder{opts: opts}
	e.walk("", value)
	return strings.Join(e.parts, "&")
}

type encoder struct {
	opts  EncodeOptions
	parts []string
}

func (e *encoder) walk(key string, v any) {
	if v == nil {
		return
	}

	switch t := v.(type) {
	case time.Time:
		e.leaf(key, e.date(t))
		return
	case *time.Time:
		if t != nil {
			e.leaf(key, e.date(*t))
		}
		return
	case []byte:
		e.leaf(key, string(t))
		return
	case json.Number:
		e.leaf(key, t.String())
		return
	case url.Values:
		e.walk(key, valuesToMap(t))
		return
	case io.Reader:
		return
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		byName := make(map[string]reflect.Value, rv.Len())
		for _, k := range rv.MapKeys() {
			name := fmt.Sprint(k.Interface())
			keys = append(keys, name)
			byName[name] = rv.MapIndex(k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.walk(e.child(key, k), byName[k].Interface())
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			e.walk(e.element(key, i), rv.Index(i).Interface())
		}
	case reflect.Struct:
		if m, ok := structToMap(rv.Interface()); ok {
			e.walk(key, m)
		}
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return
	default:
		e.leaf(key, scalarString(rv))
	}
}

func (e *encoder) leaf(key, value string) {
	value = e.escape(value)
	if key == "" {
		e.parts = append(e.parts, value)
		return
	}
	e.parts = append(e.parts, key+"="+value)
}

func (e *encoder) child(parent, name string) string {
	name = e.escape(name)
	switch {
	case parent == "":
		return name
	case e.opts.AllowDots:
		return parent + "." + name
	default:
		return parent + "[" + name + "]"
	}
}

func (e *encoder) element(parent string, i int) string {
	idx := strconv.Itoa(i)
	if parent == "" {
		return idx
	}
	switch e.opts.ArrayFormat {
	case ArrayRepeat:
		return parent
	case ArrayBrackets:
		return parent + "[]"
	default:
		return parent + "[" + idx + "]"
	}
}

func (e *encoder) date(t time.Time) string {
	if e.opts.SerializeDate != nil {
		return e.opts.SerializeDate(t)
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func (e *encoder) escape(s string) string {
	if e.opts.Raw {
		return s
	}
	return escapeComponent(s)
}

func scalarString(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	}
	return fmt.Sprint(rv.Interface())
}

func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	}
	return false
}

// structToMap converts a struct through its JSON form so that json tags
// decide the key names.
func structToMap(v any) (map[string]any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	return m, true
}

func valuesToMap(v url.Values) map[string]any {
	out := make(map[string]any, len(v))
	for k, vals := range v {
		switch len(vals) {
		case 0:
		case 1:
			out[k] = vals[0]
		default:
			items := make([]any, len(vals))
			for i, s := range vals {
				items[i] = s
			}
			out[k] = items
		}
	}
	return out
}

const upperhex = "0123456789ABCDEF"

// escapeComponent percent-encodes every byte outside A-Z a-z 0-9 and -_.!~*'().
func escapeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// DecodeQuery parses a flat query string. Repeated keys keep the last value.
func DecodeQuery(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(s, "?"), "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		out[k] = v
	}
	return out
}
