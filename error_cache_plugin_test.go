package fetchkit

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// flakyStub succeeds until failing is set, numbering successful calls.
func flakyStub(calls *int64, failing *atomic.Bool) Plugin {
	return stub(func(_ context.Context, cfg *Config) (*Response, error) {
		n := atomic.AddInt64(calls, 1)
		if failing.Load() {
			return nil, NewHTTPError(cfg, &Response{Status: http.StatusBadGateway, Config: cfg})
		}
		return &Response{Status: http.StatusOK, Data: map[string]any{"n": n}, Config: cfg}, nil
	})
}

func TestErrorCachePluginFallsBack(t *testing.T) {
	var calls int64
	var failing atomic.Bool
	client := New(WithPlugins(flakyStub(&calls, &failing), ErrorCachePlugin(ErrorCacheOptions{})))
	ctx := context.Background()

	first, err := client.Get(ctx, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache || first.Err != nil {
		t.Fatalf("fresh response marked as fallback: %+v", first)
	}

	failing.Store(true)
	resp, err := client.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("expected a fallback, got %v", err)
	}
	if !resp.FromCache {
		t.Error("fallback should be FromCache")
	}
	if !IsHTTPStatus(resp.Err, http.StatusBadGateway) {
		t.Errorf("fallback Err = %v", resp.Err)
	}
	if n := resp.Data.(map[string]any)["n"]; n != int64(1) {
		t.Errorf("fallback data from call %v, want 1", n)
	}

	_, err = client.Get(ctx, "/b")
	if !IsHTTPStatus(err, http.StatusBadGateway) {
		t.Errorf("uncached failure = %v, want the 502", err)
	}
}

func TestErrorCachePluginSkipsPost(t *testing.T) {
	var calls int64
	var failing atomic.Bool
	client := New(WithPlugins(flakyStub(&calls, &failing), ErrorCachePlugin(ErrorCacheOptions{})))
	ctx := context.Background()

	client.Post(ctx, "/a", map[string]any{"x": 1})
	failing.Store(true)
	if _, err := client.Post(ctx, "/a", map[string]any{"x": 1}); err == nil {
		t.Error("POST failures should not be masked by default")
	}

	failing.Store(false)
	client.Post(ctx, "/a", map[string]any{"x": 1}, &Config{EnableErrorCache: Bool(true)})
	failing.Store(true)
	resp, err := client.Post(ctx, "/a", map[string]any{"x": 1}, &Config{EnableErrorCache: Bool(true)})
	if err != nil || !resp.FromCache {
		t.Errorf("opted-in POST: resp=%+v err=%v", resp, err)
	}
}

func TestErrorCachePluginCacheFirst(t *testing.T) {
	var calls int64
	var failing atomic.Bool
	client := New(WithPlugins(flakyStub(&calls, &failing), ErrorCachePlugin(ErrorCacheOptions{})))
	ctx := context.Background()

	if _, err := client.Get(ctx, "/a", &Config{UseCacheFirst: true}); err != nil {
		t.Fatal(err)
	}

	resp, err := client.Get(ctx, "/a", &Config{UseCacheFirst: true})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.FromCache || resp.Err != nil {
		t.Errorf("cache-first response = %+v", resp)
	}
	if n := resp.Data.(map[string]any)["n"]; n != int64(1) {
		t.Errorf("served call %v, want the stored call 1", n)
	}

	waitFor(t, func() bool { return atomic.LoadInt64(&calls) == 2 })

	// the background refresh replaced the stored entry
	waitFor(t, func() bool {
		resp, err := client.Get(ctx, "/a", &Config{UseCacheFirst: true})
		if err != nil {
			return false
		}
		n, _ := resp.Data.(map[string]any)["n"].(int64)
		return n >= 2
	})
}

func TestErrorCachePluginRefreshError(t *testing.T) {
	var calls int64
	var failing atomic.Bool
	refreshErr := make(chan error, 1)
	client := New(WithPlugins(
		flakyStub(&calls, &failing),
		ErrorCachePlugin(ErrorCacheOptions{
			UseCacheFirst: true,
			OnRefreshError: func(_ *Config, err error) {
				refreshErr <- err
			},
		}),
	))
	ctx := context.Background()

	client.Get(ctx, "/a")
	failing.Store(true)
	resp, err := client.Get(ctx, "/a")
	if err != nil || !resp.FromCache {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}

	select {
	case err := <-refreshErr:
		var e *Error
		if !errors.As(err, &e) || e.Status() != http.StatusBadGateway {
			t.Errorf("refresh error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnRefreshError was not called")
	}
}

// hangingStub succeeds once and then blocks every call until its context
// is done, failing with the context's cause.
func hangingStub(calls *int64) Plugin {
	return stub(func(ctx context.Context, cfg *Config) (*Response, error) {
		n := atomic.AddInt64(calls, 1)
		if n == 1 {
			return &Response{Status: http.StatusOK, Data: map[string]any{"n": n}, Config: cfg}, nil
		}
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-time.After(2 * time.Second):
			return &Response{Status: http.StatusOK, Data: map[string]any{"n": n}, Config: cfg}, nil
		}
	})
}

func TestErrorCachePluginFallsBackOnTimeout(t *testing.T) {
	var calls int64
	client := New(WithPlugins(hangingStub(&calls), ErrorCachePlugin(ErrorCacheOptions{})))
	ctx := context.Background()

	if _, err := client.Get(ctx, "/slow"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		start := time.Now()
		resp, err := client.Get(ctx, "/slow", &Config{Timeout: 50 * time.Millisecond})
		if err != nil {
			t.Fatalf("call %d: expected the stored response, got %v", i, err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("call %d settled after %v", i, elapsed)
		}
		if !resp.FromCache {
			t.Errorf("call %d: FromCache = false", i)
		}
		var te *TimeoutError
		if !errors.As(resp.Err, &te) || te.Timeout != 50*time.Millisecond {
			t.Errorf("call %d: Err = %v, want the timeout", i, resp.Err)
		}
	}
}

func TestErrorCachePluginTimeoutWithoutEntry(t *testing.T) {
	client := New(WithPlugins(
		stub(func(ctx context.Context, _ *Config) (*Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		ErrorCachePlugin(ErrorCacheOptions{}),
	))

	_, err := client.Get(context.Background(), "/never-stored", &Config{Timeout: 50 * time.Millisecond})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
}

func TestErrorCachePluginRefreshHonorsTimeout(t *testing.T) {
	var calls int64
	refreshErr := make(chan error, 1)
	client := New(WithPlugins(
		hangingStub(&calls),
		ErrorCachePlugin(ErrorCacheOptions{
			UseCacheFirst: true,
			OnRefreshError: func(_ *Config, err error) {
				refreshErr <- err
			},
		}),
	))
	ctx := context.Background()

	if _, err := client.Get(ctx, "/a"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	resp, err := client.Get(ctx, "/a", &Config{Timeout: 100 * time.Millisecond})
	if err != nil || !resp.FromCache {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}

	select {
	case err := <-refreshErr:
		var te *TimeoutError
		if !errors.As(err, &te) {
			t.Errorf("refresh error = %v, want *TimeoutError", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("refresh gave up after %v, want about 100ms", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("background refresh outlived the request timeout")
	}
}
