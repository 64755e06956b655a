package limiter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/quartzbi/metasync/types"
)

// TokenBucket is a single-process token bucket: capacity Burst, refill
// RatePerSecond, computed lazily from elapsed time. Every remote call
// attempt takes one token, retries included. There is no cross-process
// coordination; each instance rates its own process only.
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

var _ types.RateLimiter = (*TokenBucket)(nil)

func NewTokenBucket(config *types.LimiterConfig) *TokenBucket {
	rate := 10.0
	burst := 20.0

	if config != nil {
		if config.RatePerSecond > 0 {
			rate = config.RatePerSecond
		}
		if config.Burst > 0 {
			burst = float64(config.Burst)
		}
	}

	tb := &TokenBucket{
		rate:   rate,
		burst:  burst,
		tokens: burst,
		now:    time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

// Acquire blocks until a token is granted or ctx ends. The wait between
// polls is sized to when the next token becomes available.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tb.mu.Lock()
		tb.refillLocked()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a token if one is available right now.
func (tb *TokenBucket) TryAcquire() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(tb.burst, tb.tokens+elapsed*tb.rate)
	tb.lastRefill = now
}
