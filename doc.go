// Package fetchkit is an HTTP client built around interceptors and a
// plugin pipeline:
//
//   - Request interceptors normalize and decorate each call
//   - Plugins wrap the transport like an onion; the last one registered runs first
//   - Response interceptors post-process results and failures
//   - Built-in plugins: cache, error cache, retry, dedupe, throttle, token
//     refresh, rate limit and circuit breaker
//   - Prometheus metrics and opt-in structured debug logging
//
// Every call merges the client defaults with the call's Config. Data on
// GET-like requests is moved into the query string; other requests send it
// as JSON or form data depending on Content-Type.
//
// Typical usage:
//
//	client := fetchkit.Create(&fetchkit.Config{
//	    BaseURL: "https://api.example.com",
//	    Timeout: 5 * time.Second,
//	}, fetchkit.WithPlugins(
//	    fetchkit.RetryPlugin(fetchkit.RetryOptions{}),
//	    fetchkit.DedupePlugin(fetchkit.DedupeOptions{}),
//	    fetchkit.CachePlugin(fetchkit.CacheOptions{}),
//	))
//	resp, err := client.Get(ctx, "/users", &fetchkit.Config{
//	    Params: map[string]any{"page": 2},
//	})
//
// Plugins apply to GET, HEAD and OPTIONS requests unless the plugin or the
// request enables them explicitly with an Enabler such as Bool(true).
// Errors are *Error values; a request timeout is a *TimeoutError and a
// cancelled context surfaces as the context's own cause.
package fetchkit
