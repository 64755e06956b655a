package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quartzbi/metasync/types"
)

// View is the category-independent surface of a cache. The registry hands
// it to administrative callers that do not know the value type.
type View interface {
	Has(key string) bool
	Delete(key string)
	Clear()
	Len() int
	Stats() types.CacheStats
	PruneExpired() int
}

type entry[T any] struct {
	value      T
	insertedAt time.Time
}

// Cache is an in-memory TTL cache for one data category. All methods are
// safe for concurrent use and none of them returns an error. Expired
// entries are dropped lazily on read and in bulk by PruneExpired.
type Cache[T any] struct {
	name    string
	maxSize int
	ttl     time.Duration
	logger  types.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry[T]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New[T any](name string, maxSize int, ttl time.Duration, logger types.Logger) *Cache[T] {
	return &Cache[T]{
		name:    name,
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry[T]),
	}
}

func (c *Cache[T]) Name() string {
	return c.name
}

// Get returns the fresh value for key. An absent or expired entry counts as
// a miss; expired entries are removed under the write lock.
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T

	c.mu.RLock()
	e, exists := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !exists {
		c.misses.Add(1)
		return zero, false
	}

	if c.fresh(e, now) {
		c.hits.Add(1)
		return e.value, true
	}

	// Re-check under the write lock: the entry may have been replaced
	// since the read lock was dropped.
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && !c.fresh(cur, c.now()) {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	c.misses.Add(1)
	return zero, false
}

// Set stores value under key, resetting its insertion time. When the cache
// is full and key is new, the oldest entry is evicted first.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &entry[T]{
		value:      value,
		insertedAt: c.now(),
	}
}

// Has reports whether key holds a fresh value. Expired entries are removed
// exactly as in Get, but Has never touches the hit/miss counters.
func (c *Cache[T]) Has(key string) bool {
	c.mu.RLock()
	e, exists := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !exists {
		return false
	}
	if c.fresh(e, now) {
		return true
	}

	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && !c.fresh(cur, c.now()) {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	return false
}

func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry and zeroes the hit/miss counters.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[T])
	c.mu.Unlock()

	c.hits.Store(0)
	c.misses.Store(0)
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[T]) Stats() types.CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return types.CacheStats{
		Name:      c.name,
		Size:      size,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		MaxSize:   c.maxSize,
		TTLMillis: c.ttl.Milliseconds(),
	}
}

// PruneExpired removes every expired entry and returns how many were
// dropped. Counters are left untouched.
func (c *Cache[T]) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pruned := 0
	for key, e := range c.entries {
		if !c.fresh(e, now) {
			delete(c.entries, key)
			pruned++
		}
	}
	return pruned
}

func (c *Cache[T]) fresh(e *entry[T], now time.Time) bool {
	return now.Sub(e.insertedAt) <= c.ttl
}

// evictOldest removes the entry with the oldest insertedAt. Eviction is
// FIFO by insertion time, not LRU; refetching an evicted value is cheaper
// than tracking access order on every read. Caller holds the write lock.
func (c *Cache[T]) evictOldest() {
	var victim string
	var oldest time.Time

	for key, e := range c.entries {
		if victim == "" || e.insertedAt.Before(oldest) {
			victim = key
			oldest = e.insertedAt
		}
	}

	if victim != "" {
		delete(c.entries, victim)
	}
}
