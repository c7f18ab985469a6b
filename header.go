package fetchkit

import (
	"net/http"
	"sort"
	"strings"
)

type headerField struct {
	name  string
	value string
}

// Header is an ordered multimap of header fields with case-insensitive
// lookup. Names keep the spelling they were first added with.
// The zero value is an empty header ready to use.
type Header struct {
	fields []headerField
}

// NewHeader builds a Header from alternating name, value pairs. A trailing
// name without a value is ignored.
func NewHeader(kv ...string) Header {
	var h Header
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// HeaderFrom converts an http.Header. Names are sorted since http.Header
// has no order of its own.
func HeaderFrom(src http.Header) Header {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	var h Header
	for _, name := range names {
		for _, v := range src[name] {
			h.Add(name, v)
		}
	}
	return h
}

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

// Values returns all values for name in insertion order.
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			out = append(out, f.value)
		}
	}
	return out
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}
	return false
}

// Set replaces every value of name with value, keeping the position of the
// first existing field.
func (h *Header) Set(name, value string) {
	for i, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			h.fields[i].value = value
			h.delFrom(name, i+1)
			return
		}
	}
	h.fields = append(h.fields, headerField{name: name, value: value})
}

// Add appends a value for name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, headerField{name: name, value: value})
}

// Del removes every value of name.
func (h *Header) Del(name string) {
	h.delFrom(name, 0)
}

func (h *Header) delFrom(name string, start int) {
	kept := h.fields[:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Len returns the number of fields, counting repeated names.
func (h Header) Len() int {
	return len(h.fields)
}

// Names returns the distinct names in first-seen order.
func (h Header) Names() []string {
	var names []string
	for _, f := range h.fields {
		if !containsFold(names, f.name) {
			names = append(names, f.name)
		}
	}
	return names
}

// Each calls fn for every field in order.
func (h Header) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

// Merge overlays o onto h; for every name in o, o's values replace h's.
func (h *Header) Merge(o Header) {
	for _, name := range o.Names() {
		values := o.Values(name)
		h.Set(name, values[0])
		for _, v := range values[1:] {
			h.Add(name, v)
		}
	}
}

// Clone returns an independent copy.
func (h Header) Clone() Header {
	if h.fields == nil {
		return Header{}
	}
	return Header{fields: append([]headerField(nil), h.fields...)}
}

// HTTP converts h to an http.Header.
func (h Header) HTTP() http.Header {
	out := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		out.Add(f.name, f.value)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
