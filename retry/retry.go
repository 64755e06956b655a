package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
)

// Policy retries an operation with exponential backoff. MaxAttempts counts
// the first try. Classify decides whether an error is worth retrying; when
// nil, everything is retried except context errors and errors marked
// permanent.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
	Classify    func(error) bool

	logger types.Logger
}

var _ types.RetryPolicy = (*Policy)(nil)

func NewPolicy(config *types.RetryConfig, logger types.Logger) *Policy {
	p := &Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
		logger:      logger,
	}

	if config != nil {
		if config.MaxAttempts > 0 {
			p.MaxAttempts = config.MaxAttempts
		}
		if config.BaseDelay > 0 {
			p.BaseDelay = config.BaseDelay
		}
		if config.MaxDelay > 0 {
			p.MaxDelay = config.MaxDelay
		}
		if config.Multiplier >= 1 {
			p.Multiplier = config.Multiplier
		}
		if config.Jitter > 0 {
			p.Jitter = config.Jitter
		}
	}

	return p
}

// Run executes op until it succeeds, a non-retryable error occurs, the
// context ends, or MaxAttempts is reached. The name only labels log lines.
func (p *Policy) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !p.retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		p.logger.Warn("Operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return types.NewErrorf("%w: %s failed after %d attempts: %w",
		types.ErrRetriesExhausted, name, p.MaxAttempts, lastErr)
}

func (p *Policy) retryable(err error) bool {
	if p.Classify != nil {
		return p.Classify(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsPermanent(err) || errors.Is(err, types.ErrOperationPermanent) {
		return false
	}
	return true
}

// backoff returns BaseDelay * Multiplier^(attempt-1) capped at MaxDelay,
// spread by ±Jitter.
func (p *Policy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*p.Jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying. Run returns it on the first
// attempt it is seen.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
