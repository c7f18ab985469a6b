package fetchkit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newEchoServer answers every request with a JSON description of it.
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := map[string]string{}
		for k, v := range r.URL.Query() {
			query[k] = v[0]
		}

		raw, _ := io.ReadAll(r.Body)
		var body any
		if strings.Contains(r.Header.Get("Content-Type"), "json") {
			_ = json.Unmarshal(raw, &body)
		} else {
			body = string(raw)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method":      strings.ToLower(r.Method),
			"path":        r.URL.Path,
			"query":       query,
			"body":        body,
			"contentType": r.Header.Get("Content-Type"),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

// countingServer replies with status and counts hits.
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func dataMap(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data is %T, want map", resp.Data)
	}
	return m
}

// stub replaces the transport with fn. Register it first so other plugins
// wrap it.
func stub(fn Adapter) Plugin {
	return func(Adapter, *Client) Adapter { return fn }
}

// okStub answers every call with 200 and counts the calls in calls. Data
// carries the wire URL and the call number.
func okStub(calls *int64) Plugin {
	return stub(func(_ context.Context, cfg *Config) (*Response, error) {
		n := atomic.AddInt64(calls, 1)
		return &Response{
			Status:     http.StatusOK,
			StatusText: "OK",
			Data:       map[string]any{"url": cfg.FullURL(), "n": n},
			Header:     NewHeader("Content-Type", "application/json"),
			Config:     cfg,
		}, nil
	})
}

// failStub fails every call with an HTTP error carrying status.
func failStub(calls *int64, status int) Plugin {
	return stub(func(_ context.Context, cfg *Config) (*Response, error) {
		atomic.AddInt64(calls, 1)
		return nil, NewHTTPError(cfg, &Response{Status: status, Data: map[string]any{"status": status}, Config: cfg})
	})
}

// eventually polls cond for up to two seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	if !eventually(cond) {
		t.Fatal("condition not met in time")
	}
}
