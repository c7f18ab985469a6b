package singleflight

import (
	"context"
	"sync"
)

// Call is a single shared computation. Any number of goroutines may wait on
// it; the first Resolve wins and later ones are ignored.
type Call[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewCall returns an unresolved call.
func NewCall[T any]() *Call[T] {
	return &Call[T]{done: make(chan struct{})}
}

// Resolve settles the call and releases every waiter.
func (c *Call[T]) Resolve(val T, err error) {
	c.once.Do(func() {
		c.val = val
		c.err = err
		close(c.done)
	})
}

// Done is closed once the call has been resolved.
func (c *Call[T]) Done() <-chan struct{} {
	return c.done
}

// Settled reports whether Resolve has been called.
func (c *Call[T]) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the call resolves or ctx is done.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

// Group manages a set of in-flight calls to prevent duplicate work.
// Keys are removed as soon as their call settles, so a later call for the
// same key always runs fn again.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*Call[T]
}

// New creates a new Group.
func New[T any]() *Group[T] {
	return &Group[T]{
		m: make(map[string]*Call[T]),
	}
}

// Do executes fn for key unless a call for key is already in flight, in which
// case it waits for that call's result. shared is true for waiters. Waiting
// honors ctx; the owner is bound only by whatever context fn captures.
func (g *Group[T]) Do(ctx context.Context, key string, fn func() (T, error)) (val T, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		val, err = c.Wait(ctx)
		return val, err, true
	}

	c := NewCall[T]()
	g.m[key] = c
	g.mu.Unlock()

	val, err = g.run(key, c, fn)
	return val, err, false
}

// TryDo executes fn only if no call for key is in progress. Otherwise it
// returns ErrInProgress and ok=false without waiting.
func (g *Group[T]) TryDo(key string, fn func() (T, error)) (val T, err error, ok bool) {
	g.mu.Lock()
	if _, exists := g.m[key]; exists {
		g.mu.Unlock()
		return val, ErrInProgress, false
	}

	c := NewCall[T]()
	g.m[key] = c
	g.mu.Unlock()

	val, err = g.run(key, c, fn)
	return val, err, true
}

func (g *Group[T]) run(key string, c *Call[T], fn func() (T, error)) (val T, err error) {
	defer func() {
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()

		var zero T
		c.Resolve(zero, ErrAbandoned)
	}()

	val, err = fn()
	c.Resolve(val, err)
	return val, err
}

// ForgetKey removes the key from the group so the next call runs fn even if
// a previous call is still in progress.
func (g *Group[T]) ForgetKey(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// Len returns the number of calls currently in flight.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
