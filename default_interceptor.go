package fetchkit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// DefaultRequestInterceptor normalizes a merged config into the form the
// plugins and the transport adapter expect. It always runs before user
// request interceptors and never mutates in.
//
// Map and struct data on GET-like requests moves into Params and the
// Content-Type defaults to form encoding. On other
// requests it is serialized to Body according to Content-Type, which
// defaults to JSON, or to form encoding when Data is url.Values.
func DefaultRequestInterceptor(_ context.Context, in *Config) (*Config, error) {
	cfg := in.Clone()

	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.Params == nil {
		cfg.Params = map[string]any{}
	}

	data := cfg.Data
	formValues := false
	if v, ok := data.(url.Values); ok {
		data = valuesToMap(v)
		cfg.Data = data
		formValues = true
	}

	if cfg.IsGetLike() {
		if m, ok := asObject(data); ok {
			cfg.Params = mergeMaps(cfg.Params, m)
			cfg.Data = nil
			if !cfg.Header.Has("Content-Type") {
				cfg.Header.Set("Content-Type", contentTypeForm)
			}
		}
		return cfg, nil
	}

	switch d := data.(type) {
	case nil:
	case string:
		cfg.Body = []byte(d)
	case []byte:
		cfg.Body = append([]byte(nil), d...)
	case io.Reader:
		// streamed by the transport adapter
	default:
		ct := cfg.Header.Get("Content-Type")
		if ct == "" {
			ct = contentTypeJSON
			if formValues {
				ct = contentTypeForm
			}
			cfg.Header.Set("Content-Type", ct)
		}

		switch {
		case isJSONContentType(ct):
			b, err := json.Marshal(d)
			if err != nil {
				return nil, &Error{
					Type:      ErrorTypeValidation,
					Message:   "cannot encode request body as JSON",
					Config:    cfg,
					Cause:     err,
					RequestID: cfg.RequestID(),
				}
			}
			cfg.Body = b
		case isFormContentType(ct):
			enc := cfg.Encoder
			if enc == nil {
				enc = NewEncoder(EncodeOptions{ArrayFormat: ArrayRepeat})
			}
			cfg.Body = []byte(enc(d))
		}
	}

	return cfg, nil
}

// asObject reports maps and structs as string-keyed maps.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return t, true
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		if _, ok := v.(io.Reader); ok {
			return nil, false
		}
		return structToMap(rv.Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "application/") && strings.Contains(ct, "json")
}

func isFormContentType(ct string) bool {
	return strings.HasPrefix(strings.ToLower(ct), contentTypeForm)
}
