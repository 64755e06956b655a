package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzbi/metasync/types"
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

func newTestBucket(rate float64, burst int) (*TokenBucket, *fakeClock) {
	clock := newFakeClock()
	tb := NewTokenBucket(&types.LimiterConfig{RatePerSecond: rate, Burst: burst})
	tb.now = clock.Now
	tb.lastRefill = clock.Now()
	return tb, clock
}

func TestTokenBucketBurstCapacity(t *testing.T) {
	tb, _ := newTestBucket(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.TryAcquire(), "token %d within burst should be granted", i)
	}
	assert.False(t, tb.TryAcquire(), "bucket should be empty after burst")
}

func TestTokenBucketRefillFromElapsedTime(t *testing.T) {
	tb, clock := newTestBucket(2, 2)

	require.True(t, tb.TryAcquire())
	require.True(t, tb.TryAcquire())
	require.False(t, tb.TryAcquire())

	// 500ms at 2 tokens/s refills exactly one token.
	clock.Advance(500 * time.Millisecond)
	assert.True(t, tb.TryAcquire())
	assert.False(t, tb.TryAcquire())
}

func TestTokenBucketRefillCappedAtBurst(t *testing.T) {
	tb, clock := newTestBucket(10, 3)

	for i := 0; i < 3; i++ {
		require.True(t, tb.TryAcquire())
	}

	clock.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, tb.TryAcquire(), "refill should restore burst capacity")
	}
	assert.False(t, tb.TryAcquire(), "refill must not exceed burst capacity")
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	tb := NewTokenBucket(&types.LimiterConfig{RatePerSecond: 100, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, tb.Acquire(ctx))

	start := time.Now()
	require.NoError(t, tb.Acquire(ctx), "second acquire should be granted after refill")
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	tb := NewTokenBucket(&types.LimiterConfig{RatePerSecond: 0.001, Burst: 1})
	require.True(t, tb.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tb.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireWithCancelledContext(t *testing.T) {
	tb := NewTokenBucket(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tb.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
