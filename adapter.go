package fetchkit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// transport is the innermost adapter: one round trip over the client's
// *http.Client with status checking and body decoding.
func (c *Client) transport(ctx context.Context, cfg *Config) (*Response, error) {
	var body io.Reader
	size := int64(-1)
	if !cfg.IsGetLike() && cfg.Method != http.MethodHead {
		switch {
		case cfg.Body != nil:
			body = bytes.NewReader(cfg.Body)
			size = int64(len(cfg.Body))
		default:
			if r, ok := cfg.Data.(io.Reader); ok {
				body = r
			}
		}
		body = withUploadProgress(body, size, cfg.OnUploadProgress)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.FullURL(), body)
	if err != nil {
		return nil, &Error{
			Type:      ErrorTypeValidation,
			Message:   "invalid request",
			Config:    cfg,
			Cause:     err,
			RequestID: cfg.RequestID(),
		}
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header = cfg.Header.HTTP()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent())
	}
	if c.debug != nil && c.debug.RequestIDHeader != "" && cfg.RequestID() != "" {
		req.Header.Set(c.debug.RequestIDHeader, cfg.RequestID())
	}

	raw, err := c.httpClient.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, NewNetworkError(cfg, err)
	}

	raw.Body = withDownloadProgress(raw.Body, raw.ContentLength, cfg.OnDownloadProgress)

	resp := &Response{
		Status:     raw.StatusCode,
		StatusText: statusText(raw),
		Header:     HeaderFrom(raw.Header),
		Config:     cfg,
		Raw:        raw,
	}

	if raw.StatusCode < 200 || raw.StatusCode >= 400 {
		b, _ := readAndClose(raw.Body)
		resp.Body = b
		resp.Data = decodeBody(b, ResponseAuto)
		return nil, NewHTTPError(cfg, resp)
	}

	if cfg.Method == http.MethodHead {
		raw.Body.Close()
		return resp, nil
	}

	if cfg.ResponseType == ResponseStream {
		return resp, nil
	}

	b, err := readAndClose(raw.Body)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, NewNetworkError(cfg, err)
	}
	resp.Body = b
	resp.Data = decodeBody(b, cfg.ResponseType)
	return resp, nil
}

func readAndClose(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

// decodeBody never fails: undecodable JSON falls back to the text.
func decodeBody(b []byte, rt ResponseType) any {
	switch rt {
	case ResponseBytes:
		return b
	case ResponseText:
		return string(b)
	}

	var v any
	if len(b) > 0 && json.Unmarshal(b, &v) == nil {
		return v
	}
	return string(b)
}

func statusText(raw *http.Response) string {
	if _, text, ok := strings.Cut(raw.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(raw.StatusCode)
}
