package fetchkit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetryPluginExhaustsAttempts(t *testing.T) {
	server, hits := countingServer(t, http.StatusInternalServerError, "boom")
	client := New(
		WithBaseURL(server.URL),
		WithPlugins(RetryPlugin(RetryOptions{RetryTimes: 2})),
	)

	_, err := client.Get(context.Background(), "/flaky")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := atomic.LoadInt64(hits); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}

	e, ok := AsError(err)
	if !ok || e.Type != ErrorTypeHTTP {
		t.Fatalf("err = %v, want an HTTP error", err)
	}
	if e.Response == nil || e.Response.Data != "boom" {
		t.Errorf("error response = %+v", e.Response)
	}
}

func TestRetryPluginRecovers(t *testing.T) {
	var calls int64
	client := New(WithPlugins(
		stub(func(_ context.Context, cfg *Config) (*Response, error) {
			if atomic.AddInt64(&calls, 1) < 3 {
				return nil, NewNetworkError(cfg, errors.New("connection reset"))
			}
			return &Response{Status: http.StatusOK, Data: "ok", Config: cfg}, nil
		}),
		RetryPlugin(RetryOptions{}),
	))

	resp, err := client.Get(context.Background(), "/a")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data != "ok" || calls != 3 {
		t.Errorf("data=%v calls=%d", resp.Data, calls)
	}
}

func TestRetryPluginScope(t *testing.T) {
	tests := []struct {
		name      string
		opts      RetryOptions
		cfg       *Config
		wantCalls int64
	}{
		{name: "GET retried twice", cfg: &Config{URL: "/a"}, wantCalls: 3},
		{name: "POST not retried", cfg: &Config{URL: "/a", Method: http.MethodPost}, wantCalls: 1},
		{name: "POST opted in", cfg: &Config{URL: "/a", Method: http.MethodPost, EnableRetry: Bool(true)}, wantCalls: 3},
		{name: "per request times", cfg: &Config{URL: "/a", RetryTimes: 4}, wantCalls: 5},
		{name: "plugin times", opts: RetryOptions{RetryTimes: 1}, cfg: &Config{URL: "/a"}, wantCalls: 2},
		{name: "GET opted out", cfg: &Config{URL: "/a", EnableRetry: Bool(false)}, wantCalls: 1},
		{
			name:      "ShouldRetry rejects 4xx",
			opts:      RetryOptions{ShouldRetry: func(_ *Config, err error) bool { return IsTransient(err) }},
			cfg:       &Config{URL: "/a", Extra: map[string]any{"status": http.StatusNotFound}},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int64
			client := New(WithPlugins(
				stub(func(_ context.Context, cfg *Config) (*Response, error) {
					atomic.AddInt64(&calls, 1)
					status := http.StatusServiceUnavailable
					if s, ok := cfg.Extra["status"].(int); ok {
						status = s
					}
					return nil, NewHTTPError(cfg, &Response{Status: status, Config: cfg})
				}),
				RetryPlugin(tt.opts),
			))

			if _, err := client.Request(context.Background(), tt.cfg); err == nil {
				t.Fatal("expected an error")
			}
			if got := atomic.LoadInt64(&calls); got != tt.wantCalls {
				t.Errorf("adapter calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetryPluginInterceptors(t *testing.T) {
	var calls, intercepted, fulfilled, rejected int64
	client := New(WithPlugins(
		stub(func(_ context.Context, cfg *Config) (*Response, error) {
			if atomic.AddInt64(&calls, 1) < 3 {
				return nil, NewHTTPError(cfg, &Response{Status: http.StatusBadGateway, Config: cfg})
			}
			return &Response{Status: http.StatusOK, Data: cfg.Header.Get("X-Attempt"), Config: cfg}, nil
		}),
		RetryPlugin(RetryOptions{}),
	))

	client.Interceptors.Request.Use(func(_ context.Context, cfg *Config) (*Config, error) {
		n := atomic.AddInt64(&intercepted, 1)
		cfg.Header.Set("X-Attempt", strconv.FormatInt(n, 10))
		return cfg, nil
	})
	client.Interceptors.Response.Use(
		func(_ context.Context, resp *Response) (*Response, error) {
			atomic.AddInt64(&fulfilled, 1)
			return resp, nil
		},
		func(_ context.Context, err error) (*Response, error) {
			atomic.AddInt64(&rejected, 1)
			return nil, err
		},
	)

	resp, err := client.Get(context.Background(), "/a")
	if err != nil {
		t.Fatal(err)
	}

	if intercepted != 3 {
		t.Errorf("request interceptor runs = %d, want 3", intercepted)
	}
	if resp.Data != "3" {
		t.Errorf("final attempt header = %v, want 3", resp.Data)
	}
	if rejected != 2 {
		t.Errorf("rejected handler runs = %d, want 2", rejected)
	}
	if fulfilled != 1 {
		t.Errorf("fulfilled handler runs = %d, want 1", fulfilled)
	}
}

func TestRetryPluginRejectedHandlerRecovers(t *testing.T) {
	var calls int64
	client := New(WithPlugins(failStub(&calls, http.StatusServiceUnavailable), RetryPlugin(RetryOptions{})))
	client.Interceptors.Response.Use(nil, func(_ context.Context, err error) (*Response, error) {
		return &Response{Status: http.StatusOK, Data: "recovered"}, nil
	})

	resp, err := client.Get(context.Background(), "/a")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data != "recovered" || calls != 1 {
		t.Errorf("data=%v calls=%d", resp.Data, calls)
	}
}

func TestRetryPluginInterval(t *testing.T) {
	var calls int64
	var attempts []int
	client := New(WithPlugins(
		failStub(&calls, http.StatusServiceUnavailable),
		RetryPlugin(RetryOptions{
			RetryInterval: 20 * time.Millisecond,
			OnRetry: func(_ *Config, _ error, attempt int) {
				attempts = append(attempts, attempt)
			},
		}),
	))

	start := time.Now()
	client.Get(context.Background(), "/a")
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("elapsed %v, want at least two 20ms waits", elapsed)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v", attempts)
	}
}

func TestRetryPluginIntervalFunc(t *testing.T) {
	var seen []int
	opts := RetryOptions{
		RetryInterval: time.Hour,
		IntervalFunc: func(attempt int, _ *Config, _ error) time.Duration {
			seen = append(seen, attempt)
			return time.Millisecond
		},
	}

	var calls int64
	client := New(WithPlugins(failStub(&calls, http.StatusServiceUnavailable), RetryPlugin(opts)))
	client.Get(context.Background(), "/a", &Config{RetryTimes: 3})

	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("IntervalFunc attempts = %v", seen)
	}
}

func TestRetryPluginStopsOnTimeout(t *testing.T) {
	var calls int64
	client := New(WithPlugins(
		failStub(&calls, http.StatusServiceUnavailable),
		RetryPlugin(RetryOptions{RetryInterval: time.Second}),
	))

	start := time.Now()
	_, err := client.Get(context.Background(), "/a", &Config{Timeout: 50 * time.Millisecond})
	if !IsTimeout(err) {
		t.Errorf("err = %v, want a timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %v", elapsed)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("adapter calls = %d, want 1", got)
	}
}

func TestBackoffIntervalFuncs(t *testing.T) {
	exp := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond, 2, 0)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for i, w := range want {
		if got := exp(i+1, nil, nil); got != w {
			t.Errorf("exponential attempt %d = %v, want %v", i+1, got, w)
		}
	}

	dec := DecorrelatedBackoff(10*time.Millisecond, 100*time.Millisecond)
	for attempt := 1; attempt <= 6; attempt++ {
		got := dec(attempt, nil, nil)
		if got < 10*time.Millisecond || got > 100*time.Millisecond {
			t.Errorf("decorrelated attempt %d = %v out of range", attempt, got)
		}
	}
}

// wrapData nests each response's Data in a slice and counts its runs, so a
// response intercepted twice shows up as a doubly nested slice.
func wrapData(runs *int64) Option {
	return WithResponseInterceptor(func(_ context.Context, resp *Response) (*Response, error) {
		atomic.AddInt64(runs, 1)
		resp.Data = []any{resp.Data}
		return resp, nil
	}, nil)
}

func interceptedOnce(t *testing.T, name string, resp *Response) {
	t.Helper()
	outer, ok := resp.Data.([]any)
	if !ok || len(outer) != 1 {
		t.Fatalf("%s: Data = %#v, want one wrapping", name, resp.Data)
	}
	if _, nested := outer[0].([]any); nested {
		t.Errorf("%s: Data = %#v, intercepted twice", name, resp.Data)
	}
}

func TestRetryInterceptedResponseSharedByOuterPlugins(t *testing.T) {
	tests := []struct {
		name  string
		outer Plugin
	}{
		{"cache", CachePlugin(CacheOptions{})},
		{"throttle", ThrottlePlugin(ThrottleOptions{Threshold: time.Minute})},
		{"error cache first", ErrorCachePlugin(ErrorCacheOptions{UseCacheFirst: true})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls, runs int64
			client := New(
				WithPlugins(okStub(&calls), RetryPlugin(RetryOptions{}), tt.outer),
				wrapData(&runs),
			)
			ctx := context.Background()

			first, err := client.Get(ctx, "/a")
			if err != nil {
				t.Fatal(err)
			}
			second, err := client.Get(ctx, "/a")
			if err != nil {
				t.Fatal(err)
			}

			interceptedOnce(t, "first", first)
			interceptedOnce(t, "second", second)
			// each adapter result is intercepted at most once; a background
			// refresh may still be running
			r := atomic.LoadInt64(&runs)
			if c := atomic.LoadInt64(&calls); r > c {
				t.Errorf("interceptor runs = %d, adapter calls = %d", r, c)
			}
		})
	}
}

func TestRetryInterceptedResultSharedByDedupe(t *testing.T) {
	const n = 4
	var calls, arrived, runs, rejections int64
	release := make(chan struct{})

	client := New(
		WithPlugins(
			stub(func(_ context.Context, cfg *Config) (*Response, error) {
				atomic.AddInt64(&calls, 1)
				<-release
				return &Response{Status: http.StatusOK, Data: "shared", Config: cfg}, nil
			}),
			RetryPlugin(RetryOptions{}),
			DedupePlugin(DedupeOptions{}),
			arrivals(&arrived),
		),
		wrapData(&runs),
	)

	go func() {
		eventually(func() bool { return atomic.LoadInt64(&arrived) == n })
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	resps, errs := runConcurrent(client, n, &Config{URL: "/a"})

	for i := range resps {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		interceptedOnce(t, "resp "+strconv.Itoa(i), resps[i])
	}
	if calls != 1 || runs != 1 {
		t.Errorf("adapter calls = %d, interceptor runs = %d, want 1 and 1", calls, runs)
	}

	// failures shared by waiters reach the rejection handler once too
	calls, arrived = 0, 0
	failRelease := make(chan struct{})
	client = New(
		WithPlugins(
			stub(func(_ context.Context, cfg *Config) (*Response, error) {
				atomic.AddInt64(&calls, 1)
				<-failRelease
				return nil, NewHTTPError(cfg, &Response{Status: http.StatusNotFound, Config: cfg})
			}),
			RetryPlugin(RetryOptions{RetryTimes: 1}),
			DedupePlugin(DedupeOptions{}),
			arrivals(&arrived),
		),
		WithResponseInterceptor(nil, func(_ context.Context, err error) (*Response, error) {
			atomic.AddInt64(&rejections, 1)
			return nil, err
		}),
	)

	go func() {
		eventually(func() bool { return atomic.LoadInt64(&arrived) == n })
		time.Sleep(20 * time.Millisecond)
		close(failRelease)
	}()
	_, errs = runConcurrent(client, n, &Config{URL: "/b"})

	for _, err := range errs {
		e, ok := AsError(err)
		if !ok || e.Status() != http.StatusNotFound {
			t.Fatalf("err = %v, want the 404", err)
		}
		if _, marked := err.(*interceptedError); marked {
			t.Error("caller got the internal marker")
		}
	}
	// two attempts by the owning call, none for the waiters
	if calls != 2 || rejections != 2 {
		t.Errorf("adapter calls = %d, rejection runs = %d, want 2 and 2", calls, rejections)
	}
}
