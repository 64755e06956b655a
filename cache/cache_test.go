package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzbi/metasync/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache[T any](maxSize int, ttl time.Duration) (*Cache[T], *fakeClock) {
	clock := newFakeClock()
	c := New[T]("test", maxSize, ttl, logger.NewNop())
	c.now = clock.Now
	return c, clock
}

func TestCacheSetGet(t *testing.T) {
	c, _ := newTestCache[int](10, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = c.Get("absent")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCacheFreshnessBoundary(t *testing.T) {
	ttl := 5 * time.Minute
	c, clock := newTestCache[string](10, ttl)

	c.Set("k", "v")

	clock.Advance(ttl - time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok, "entry one millisecond before the deadline must still be fresh")
	assert.Equal(t, "v", v)

	clock.Advance(2 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry one millisecond past the deadline must be expired")
	assert.Equal(t, 0, c.Len(), "expired entry must be removed on read")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCacheEvictionBound(t *testing.T) {
	const maxSize = 3
	c, clock := newTestCache[int](maxSize, time.Hour)

	for i := 0; i < maxSize+4; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
		assert.LessOrEqual(t, c.Len(), maxSize)
		clock.Advance(time.Second)
	}

	assert.Equal(t, maxSize, c.Len())

	// The oldest insertions are the victims; the newest survive.
	for i := 0; i < 4; i++ {
		assert.False(t, c.Has(fmt.Sprintf("key-%d", i)), "key-%d should have been evicted", i)
	}
	for i := 4; i < maxSize+4; i++ {
		assert.True(t, c.Has(fmt.Sprintf("key-%d", i)), "key-%d should have survived", i)
	}
}

func TestCacheEvictionVictimIsOldestInsert(t *testing.T) {
	c, clock := newTestCache[int](2, time.Hour)

	c.Set("old", 1)
	clock.Advance(time.Second)
	c.Set("mid", 2)
	clock.Advance(time.Second)

	// "old" was inserted first even though it was read most recently.
	_, _ = c.Get("old")
	c.Set("new", 3)

	assert.False(t, c.Has("old"))
	assert.True(t, c.Has("mid"))
	assert.True(t, c.Has("new"))
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c, clock := newTestCache[int](2, time.Minute)

	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)

	// Overwriting an existing key at capacity must not evict anything.
	c.Set("a", 10)
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Has("b"))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCacheOverwriteResetsInsertionTime(t *testing.T) {
	ttl := time.Minute
	c, clock := newTestCache[int](10, ttl)

	c.Set("k", 1)
	clock.Advance(45 * time.Second)
	c.Set("k", 2)
	clock.Advance(45 * time.Second)

	// 90s after the first insert, 45s after the overwrite: still fresh.
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCacheHasLeavesCountersUntouched(t *testing.T) {
	c, clock := newTestCache[int](10, time.Minute)

	c.Set("k", 1)

	assert.True(t, c.Has("k"))
	assert.False(t, c.Has("absent"))

	clock.Advance(2 * time.Minute)
	assert.False(t, c.Has("k"), "expired entry reported as present")
	assert.Equal(t, 0, c.Len(), "Has must drop the expired entry like Get does")

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestCacheClearZeroesCounters(t *testing.T) {
	c, _ := newTestCache[int](10, time.Minute)

	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("absent")

	c.Clear()

	stats := c.Stats()
	assert.Zero(t, stats.Size)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.HitRate)
}

func TestCacheHitRateZeroWithoutAccesses(t *testing.T) {
	c, _ := newTestCache[int](10, time.Minute)
	c.Set("a", 1)

	stats := c.Stats()
	assert.Zero(t, stats.HitRate)
	assert.Equal(t, 1, stats.Size)
}

func TestCacheStatsSnapshot(t *testing.T) {
	c, _ := newTestCache[int](7, 1500*time.Millisecond)

	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("b")
	_, _ = c.Get("c")

	stats := c.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 7, stats.MaxSize)
	assert.Equal(t, int64(1500), stats.TTLMillis)
}

func TestCachePruneExpired(t *testing.T) {
	c, clock := newTestCache[int](10, time.Minute)

	c.Set("old-a", 1)
	c.Set("old-b", 2)
	clock.Advance(2 * time.Minute)
	c.Set("fresh", 3)

	pruned := c.PruneExpired()
	assert.Equal(t, 2, pruned)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Has("fresh"))

	stats := c.Stats()
	assert.Zero(t, stats.Hits, "prune must not count accesses")
	assert.Zero(t, stats.Misses, "prune must not count accesses")
}

func TestCacheDelete(t *testing.T) {
	c, _ := newTestCache[int](10, time.Minute)

	c.Set("k", 1)
	c.Delete("k")
	assert.False(t, c.Has("k"))

	// Deleting an absent key is a no-op.
	c.Delete("absent")
	assert.Equal(t, 0, c.Len())
}

func TestCacheConcurrentAccess(t *testing.T) {
	c, _ := newTestCache[int](100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%50)
				c.Set(key, n)
				_, _ = c.Get(key)
				_ = c.Has(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 100)
	stats := c.Stats()
	assert.Equal(t, uint64(1600), stats.Hits+stats.Misses)
}
