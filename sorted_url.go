package fetchkit

import (
	"slices"
	"strings"
)

// BuildSortedURL derives a canonical key from rawURL and aux. The query of
// rawURL and the encoded aux are split into fragments which are sorted and
// rejoined, so the key is independent of parameter order.
func BuildSortedURL(rawURL string, aux any, encode EncoderFunc) string {
	path, query, _ := strings.Cut(rawURL, "?")

	var frags []string
	if query != "" {
		frags = append(frags, strings.Split(query, "&")...)
	}
	if aux != nil && encode != nil {
		if s := encode(aux); s != "" {
			frags = append(frags, strings.Split(s, "&")...)
		}
	}

	frags = slices.DeleteFunc(frags, func(s string) bool { return s == "" })
	if len(frags) == 0 {
		return path
	}
	if len(frags) > 1 {
		slices.Sort(frags)
	}
	return path + "?" + strings.Join(frags, "&")
}

// requestKey is the key cache, dedupe and throttle plugins share for cfg.
func requestKey(cfg *Config, normalize func(*Config) *Config) string {
	if normalize != nil {
		if n := normalize(cfg.Clone()); n != nil {
			cfg = n
		}
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = "GET"
	}
	aux := map[string]any{"data": cfg.Data, "params": cfg.Params}
	return method + " " + BuildSortedURL(cfg.ResolvedURL(), aux, cfg.encoder())
}
