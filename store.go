package fetchkit

import (
	"time"

	"github.com/ambiyansyah-risyal/fetchkit/internal/lru"
)

// Store is the key-value storage used by the caching plugins. Any bounded
// cache with these three methods will do.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// StoreStats reports LRUStore counters.
type StoreStats = lru.Stats

// LRUStore is the default Store: least-recently-used eviction plus a
// per-entry time to live.
type LRUStore struct {
	cache *lru.Cache[any]
}

// NewLRUStore creates a store holding at most capacity entries for ttl each.
// capacity <= 0 means unbounded and ttl <= 0 means no expiry.
func NewLRUStore(capacity int, ttl time.Duration) *LRUStore {
	return &LRUStore{cache: lru.New[any](capacity, ttl)}
}

func (s *LRUStore) Get(key string) (any, bool) { return s.cache.Get(key) }
func (s *LRUStore) Set(key string, value any)  { s.cache.Set(key, value) }
func (s *LRUStore) Delete(key string)          { s.cache.Delete(key) }

// Len returns the number of stored entries.
func (s *LRUStore) Len() int { return s.cache.Len() }

// Clear drops all entries.
func (s *LRUStore) Clear() { s.cache.Clear() }

// Stats returns hit, miss and eviction counters.
func (s *LRUStore) Stats() StoreStats { return s.cache.Stats() }
