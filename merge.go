package fetchkit

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// Merge deep-merges maps left to right. Later values override earlier ones,
// nested maps merge recursively and slices are unioned keeping first-seen
// order. nil arguments and nil values are skipped. A slice passed as a
// top-level argument returns ErrMergeSequence.
func Merge(values ...any) (map[string]any, error) {
	out := map[string]any{}
	for i, v := range values {
		switch m := v.(type) {
		case nil:
			continue
		case map[string]any:
			mergeInto(out, m)
		case map[string]string:
			for k, s := range m {
				out[k] = s
			}
		default:
			if _, ok := toAnySlice(v); ok {
				return nil, fmt.Errorf("argument %d: %w", i, ErrMergeSequence)
			}
			return nil, fmt.Errorf("fetchkit: cannot merge argument %d of type %T", i, v)
		}
	}
	return out, nil
}

func mergeInto(dst, src map[string]any) {
	for k, sv := range src {
		if sv == nil {
			continue
		}
		dv, exists := dst[k]
		if !exists {
			dst[k] = cloneValue(sv)
			continue
		}
		dst[k] = mergeValue(dv, sv)
	}
}

func mergeValue(dv, sv any) any {
	if dm, ok := dv.(map[string]any); ok {
		if sm, ok := sv.(map[string]any); ok {
			out := cloneMap(dm)
			mergeInto(out, sm)
			return out
		}
	}

	ds, dok := toAnySlice(dv)
	ss, sok := toAnySlice(sv)
	if dok && sok {
		return unionSlices(ds, ss)
	}
	return cloneValue(sv)
}

func unionSlices(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	for _, v := range slices.Concat(a, b) {
		dup := slices.ContainsFunc(out, func(seen any) bool {
			return reflect.DeepEqual(seen, v)
		})
		if !dup {
			out = append(out, cloneValue(v))
		}
	}
	return out
}

// mergeMaps returns a fresh map holding a deep merge of a and b.
func mergeMaps(a, b map[string]any) map[string]any {
	if a == nil && b == nil {
		return nil
	}
	out := cloneMap(a)
	if out == nil {
		out = map[string]any{}
	}
	mergeInto(out, b)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	}
	return v
}

// toAnySlice converts any slice or array except []byte to []any.
func toAnySlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// MergeConfig merges configs left to right. Set scalars replace earlier
// ones, headers merge per name, Params and Extra merge deeply and map Data
// merges with map Data. The result never aliases an input's maps.
func MergeConfig(configs ...*Config) *Config {
	out := &Config{}
	for _, c := range configs {
		if c == nil {
			continue
		}

		if c.URL != "" {
			out.URL = c.URL
		}
		if c.Method != "" {
			out.Method = c.Method
		}
		if c.BaseURL != "" {
			out.BaseURL = c.BaseURL
		}
		out.Header.Merge(c.Header)
		out.Params = mergeMaps(out.Params, c.Params)
		out.Extra = mergeMaps(out.Extra, c.Extra)

		if c.Data != nil {
			dm, dok := out.Data.(map[string]any)
			sm, sok := c.Data.(map[string]any)
			if dok && sok {
				out.Data = mergeMaps(dm, sm)
			} else {
				out.Data = cloneValue(c.Data)
			}
		}
		if c.Body != nil {
			out.Body = slices.Clone(c.Body)
		}

		if c.Timeout > 0 {
			out.Timeout = c.Timeout
		}
		if c.ResponseType != "" {
			out.ResponseType = c.ResponseType
		}
		out.IsGet = out.IsGet || c.IsGet
		if c.Encoder != nil {
			out.Encoder = c.Encoder
		}

		if c.EnableCache != nil {
			out.EnableCache = c.EnableCache
		}
		out.ForceUpdate = out.ForceUpdate || c.ForceUpdate
		if c.EnableErrorCache != nil {
			out.EnableErrorCache = c.EnableErrorCache
		}
		out.UseCacheFirst = out.UseCacheFirst || c.UseCacheFirst
		if c.EnableRetry != nil {
			out.EnableRetry = c.EnableRetry
		}
		if c.RetryTimes != 0 {
			out.RetryTimes = c.RetryTimes
		}
		if c.RetryInterval > 0 {
			out.RetryInterval = c.RetryInterval
		}
		if c.EnableDedupe != nil {
			out.EnableDedupe = c.EnableDedupe
		}
		if c.EnableThrottle != nil {
			out.EnableThrottle = c.EnableThrottle
		}
		if c.ThrottleThreshold > 0 {
			out.ThrottleThreshold = c.ThrottleThreshold
		}
		if c.OnUploadProgress != nil {
			out.OnUploadProgress = c.OnUploadProgress
		}
		if c.OnDownloadProgress != nil {
			out.OnDownloadProgress = c.OnDownloadProgress
		}
	}

	if out.Params == nil {
		out.Params = map[string]any{}
	}
	return out
}
