package fetchkit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetchkit.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
base_url: https://api.example.com
timeout: 2s
headers:
  X-Api-Key: secret
params:
  v: 2
cache:
  enabled: true
  ttl: 1m
retry:
  enabled: true
  times: 3
  interval: 250ms
  backoff: exponential
  honor_retry_after: true
  transient_only: true
`)

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}

	if p.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q", p.BaseURL)
	}
	if p.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v", p.Timeout)
	}
	if p.Headers["X-Api-Key"] != "secret" {
		t.Errorf("Headers = %v", p.Headers)
	}
	if !p.Cache.Enabled || p.Cache.TTL != time.Minute {
		t.Errorf("Cache = %+v", p.Cache)
	}
	// untouched keys keep their defaults
	if p.Cache.Capacity != defaultCacheCapacity {
		t.Errorf("Cache.Capacity = %d, want %d", p.Cache.Capacity, defaultCacheCapacity)
	}
	if p.Retry.Times != 3 || p.Retry.Interval != 250*time.Millisecond || p.Retry.Backoff != "exponential" {
		t.Errorf("Retry = %+v", p.Retry)
	}
	if opts := p.Retry.options(); !opts.HonorRetryAfter || opts.ShouldRetry == nil || opts.IntervalFunc == nil {
		t.Errorf("retry options = %+v", opts)
	}
	if p.Throttle.Threshold != defaultThrottleThreshold {
		t.Errorf("Throttle.Threshold = %v", p.Throttle.Threshold)
	}
}

func TestLoadProfileErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		validation bool
	}{
		{name: "malformed yaml", body: "base_url: [", validation: false},
		{name: "negative timeout", body: "timeout: -1s", validation: true},
		{name: "unknown backoff", body: "retry:\n  backoff: linear-ish", validation: true},
		{name: "rate limit without rps", body: "rate_limit:\n  enabled: true", validation: true},
		{name: "unknown response type", body: "response_type: xml", validation: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfile(writeProfile(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, &Error{Type: ErrorTypeValidation}); got != tt.validation {
				t.Errorf("validation error = %v, want %v (%v)", got, tt.validation, err)
			}
		})
	}

	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestNewFromProfile(t *testing.T) {
	server := newEchoServer(t)
	path := writeProfile(t, `
base_url: `+server.URL+`
timeout: 5s
headers:
  X-Profile: yes
params:
  from: profile
cache:
  enabled: true
dedupe:
  enabled: true
`)

	client, err := NewFromProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !client.IsValid() {
		t.Fatal(client.ValidationError())
	}
	if client.Plugins.Len() != 2 {
		t.Errorf("plugins = %d, want 2", client.Plugins.Len())
	}

	ctx := context.Background()
	first, err := client.Get(ctx, "/items")
	if err != nil {
		t.Fatal(err)
	}
	query := dataMap(t, first)["query"].(map[string]any)
	if query["from"] != "profile" {
		t.Errorf("query = %v", query)
	}

	second, err := client.Get(ctx, "/items")
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Error("second GET should be served from cache")
	}
	if got := client.Defaults().Header.Get("x-profile"); got != "yes" {
		t.Errorf("default header = %q", got)
	}
}
