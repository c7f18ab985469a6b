package fetchkit

import (
	"context"
	"sync"
)

type registryEntry[T any] struct {
	id int
	fn T
}

// registry is an insertion-ordered list addressed by the ids Use returns.
// Calls work on a snapshot, so Eject and Clear never affect a call that has
// already started.
type registry[T any] struct {
	mu      sync.RWMutex
	nextID  int
	entries []registryEntry[T]
}

func (r *registry[T]) use(fn T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries = append(r.entries, registryEntry[T]{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *registry[T]) prepend(fn T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries = append([]registryEntry[T]{{id: r.nextID, fn: fn}}, r.entries...)
	return r.nextID
}

func (r *registry[T]) eject(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

func (r *registry[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.fn
	}
	return out
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// RequestInterceptors runs in registration order before dispatch.
type RequestInterceptors struct {
	reg registry[RequestInterceptor]
}

// Use registers fn and returns its handle.
func (r *RequestInterceptors) Use(fn RequestInterceptor) int { return r.reg.use(fn) }

// Eject removes the interceptor registered under id.
func (r *RequestInterceptors) Eject(id int) bool { return r.reg.eject(id) }

// Clear removes every interceptor.
func (r *RequestInterceptors) Clear() { r.reg.clear() }

// Len returns the number of registered interceptors.
func (r *RequestInterceptors) Len() int { return r.reg.len() }

type responsePair struct {
	onFulfilled ResponseFulfilled
	onRejected  ResponseRejected
}

// ResponseInterceptors folds a call's outcome through fulfilled/rejected
// pairs in registration order.
type ResponseInterceptors struct {
	reg registry[responsePair]
}

// Use registers a handler pair. Either side may be nil.
func (r *ResponseInterceptors) Use(onFulfilled ResponseFulfilled, onRejected ResponseRejected) int {
	return r.reg.use(responsePair{onFulfilled: onFulfilled, onRejected: onRejected})
}

// Eject removes the pair registered under id.
func (r *ResponseInterceptors) Eject(id int) bool { return r.reg.eject(id) }

// Clear removes every pair.
func (r *ResponseInterceptors) Clear() { r.reg.clear() }

// Len returns the number of registered pairs.
func (r *ResponseInterceptors) Len() int { return r.reg.len() }

// apply behaves like a promise chain: a pair's onRejected sees errors from
// earlier pairs only, and a handler that returns a response puts the chain
// back on the fulfilled path.
func (r *ResponseInterceptors) apply(ctx context.Context, resp *Response, err error) (*Response, error) {
	for _, p := range r.reg.snapshot() {
		if err == nil {
			if p.onFulfilled != nil {
				resp, err = p.onFulfilled(ctx, resp)
			}
			continue
		}
		if p.onRejected != nil {
			resp, err = p.onRejected(ctx, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Interceptors groups a client's request and response interceptors.
type Interceptors struct {
	Request  RequestInterceptors
	Response ResponseInterceptors
}

// Plugins holds a client's plugin list. The last registered plugin is the
// outermost wrapper around the transport adapter.
type Plugins struct {
	reg registry[Plugin]
}

// Use registers p and returns its handle.
func (p *Plugins) Use(plugin Plugin) int { return p.reg.use(plugin) }

// UseInnermost registers plugin directly around the transport, inside every
// plugin already registered.
func (p *Plugins) UseInnermost(plugin Plugin) int { return p.reg.prepend(plugin) }

// Eject removes the plugin registered under id.
func (p *Plugins) Eject(id int) bool { return p.reg.eject(id) }

// Clear removes every plugin.
func (p *Plugins) Clear() { p.reg.clear() }

// Len returns the number of registered plugins.
func (p *Plugins) Len() int { return p.reg.len() }

func (p *Plugins) compose(base Adapter, c *Client) Adapter {
	adapter := base
	for _, plugin := range p.reg.snapshot() {
		adapter = plugin(adapter, c)
	}
	return adapter
}
