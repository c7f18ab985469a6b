package fetchkit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cacheDirectives holds the Cache-Control directives a client-side cache
// acts on.
type cacheDirectives struct {
	NoStore   bool
	NoCache   bool
	MaxAge    time.Duration
	HasMaxAge bool
}

func parseCacheControl(header string) cacheDirectives {
	var d cacheDirectives
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}

		key, value, hasValue := strings.Cut(part, "=")
		if !hasValue {
			switch key {
			case "no-store":
				d.NoStore = true
			case "no-cache":
				d.NoCache = true
			}
			continue
		}

		if key == "max-age" {
			if seconds, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`)); err == nil && seconds >= 0 {
				d.MaxAge = time.Duration(seconds) * time.Second
				d.HasMaxAge = true
			}
		}
	}
	return d
}

// freshness reads the caching headers of resp. storable is false for
// no-store and no-cache responses. A zero expires means the response sets
// no lifetime and the store's own TTL applies.
func freshness(resp *Response, receivedAt time.Time) (expires time.Time, storable bool) {
	cc := parseCacheControl(resp.Header.Get("Cache-Control"))
	if cc.NoStore || cc.NoCache {
		return time.Time{}, false
	}

	// max-age wins over Expires
	if cc.HasMaxAge {
		return receivedAt.Add(cc.MaxAge), true
	}
	if v := resp.Header.Get("Expires"); v != "" {
		t, err := http.ParseTime(v)
		if err != nil {
			// an invalid Expires means already expired
			return receivedAt, true
		}
		return t, true
	}
	return time.Time{}, true
}
