package types

import (
	"context"
)

// RateLimiter gates every remote call attempt. Acquire blocks until a token
// is available or the context ends. Each retry attempt must reacquire.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// RetryPolicy wraps one remote operation with bounded retries and backoff.
// The operation name is only used for logging.
type RetryPolicy interface {
	Run(ctx context.Context, name string, op func(ctx context.Context) error) error
}
