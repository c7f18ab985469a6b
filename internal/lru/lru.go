// Package lru implements a size-bounded, TTL-aware least-recently-used cache.
package lru

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int
	Capacity  int
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	HitRatio  float64
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt int64 // unix nanos, 0 = never

	prev, next *entry[V]
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache[V any] struct {
	mu       sync.Mutex
	items    map[string]*entry[V]
	head     *entry[V]
	tail     *entry[V]
	capacity int
	ttl      time.Duration
	now      func() time.Time

	hits      int64
	misses    int64
	sets      int64
	evictions int64
}

// New creates a cache holding at most capacity entries, each living for ttl.
// A capacity <= 0 means unbounded and a ttl <= 0 means entries never expire.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		items:    make(map[string]*entry[V]),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		var zero V
		return zero, false
	}

	if e.expiresAt != 0 && c.now().UnixNano() > e.expiresAt {
		c.remove(e)
		atomic.AddInt64(&c.misses, 1)
		var zero V
		return zero, false
	}

	c.unlink(e)
	c.pushFront(e)
	atomic.AddInt64(&c.hits, 1)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt int64
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl).UnixNano()
	}

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.unlink(e)
		c.pushFront(e)
		atomic.AddInt64(&c.sets, 1)
		return
	}

	if c.capacity > 0 && len(c.items) >= c.capacity {
		c.evictOldest()
	}

	e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	c.items[key] = e
	c.pushFront(e)
	atomic.AddInt64(&c.sets, 1)
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.remove(e)
	}
}

// Len reports the number of stored entries, expired ones included until touched.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops every entry and resets counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*entry[V])
	c.head, c.tail = nil, nil
	c.mu.Unlock()

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.sets, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	size := len(c.items)
	c.mu.Unlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	ratio := 0.0
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Size:      size,
		Capacity:  c.capacity,
		Hits:      hits,
		Misses:    misses,
		Sets:      atomic.LoadInt64(&c.sets),
		Evictions: atomic.LoadInt64(&c.evictions),
		HitRatio:  ratio,
	}
}

func (c *Cache[V]) evictOldest() {
	if c.tail == nil {
		return
	}
	c.remove(c.tail)
	atomic.AddInt64(&c.evictions, 1)
}

func (c *Cache[V]) remove(e *entry[V]) {
	delete(c.items, e.key)
	c.unlink(e)
}

func (c *Cache[V]) pushFront(e *entry[V]) {
	if c.head == nil {
		c.head, c.tail = e, e
		return
	}
	e.next = c.head
	c.head.prev = e
	c.head = e
}

func (c *Cache[V]) unlink(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if c.head == e {
		c.head = e.next
	}

	if e.next != nil {
		e.next.prev = e.prev
	} else if c.tail == e {
		c.tail = e.prev
	}

	e.prev, e.next = nil, nil
}
