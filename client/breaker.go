package client

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
)

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// CircuitBreaker guards the gateway: consecutive failures open it, a
// recovery timeout moves it to half-open, and enough half-open successes
// close it again. A disabled breaker allows everything.
type CircuitBreaker struct {
	config *types.BreakerConfig
	logger types.Logger

	mu        sync.Mutex
	state     atomic.Value
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
}

func NewCircuitBreaker(config *types.BreakerConfig, logger types.Logger) *CircuitBreaker {
	if config == nil || !config.Enabled {
		cb := &CircuitBreaker{
			config: &types.BreakerConfig{Enabled: false},
			logger: logger,
		}
		cb.state.Store(BreakerClosed)
		return cb
	}

	cfg := *config
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}

	cb := &CircuitBreaker{
		config: &cfg,
		logger: logger,
	}
	cb.state.Store(BreakerClosed)
	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if cb == nil || !cb.config.Enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		sinceFail := time.Since(time.Unix(0, cb.lastFail.Load()))
		if sinceFail > cb.config.RecoveryTimeout {
			cb.toHalfOpen()
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case BreakerClosed:
		cb.failures.Store(0)
	case BreakerHalfOpen:
		if cb.successes.Add(1) >= int32(cb.config.HalfOpenRequests) {
			cb.toClosed()
		}
	case BreakerOpen:
		cb.logger.Warn("Success recorded while circuit breaker is open")
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFail.Store(time.Now().UnixNano())

	switch cb.currentState() {
	case BreakerClosed:
		if cb.failures.Add(1) >= int32(cb.config.FailureThreshold) {
			cb.toOpen()
		}
	case BreakerHalfOpen:
		cb.toOpen()
	case BreakerOpen:
	}
}

// State returns the current state name for logs and diagnostics.
func (cb *CircuitBreaker) State() string {
	if cb == nil || !cb.config.Enabled {
		return "disabled"
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Reset forces the breaker closed regardless of its history.
func (cb *CircuitBreaker) Reset() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.toClosed()
	cb.logger.Info("Circuit breaker manually reset")
}

func (cb *CircuitBreaker) currentState() BreakerState {
	state := cb.state.Load()
	if state == nil {
		return BreakerClosed
	}
	return state.(BreakerState)
}

func (cb *CircuitBreaker) toClosed() {
	if cb.state.CompareAndSwap(cb.currentState(), BreakerClosed) {
		cb.failures.Store(0)
		cb.successes.Store(0)
		cb.logger.Info("Circuit breaker closed")
	}
}

func (cb *CircuitBreaker) toOpen() {
	if cb.state.CompareAndSwap(cb.currentState(), BreakerOpen) {
		cb.successes.Store(0)
		cb.logger.Warn("Circuit breaker opened",
			zap.Int32("failures", cb.failures.Load()),
			zap.Int("threshold", cb.config.FailureThreshold))
	}
}

func (cb *CircuitBreaker) toHalfOpen() {
	if cb.state.CompareAndSwap(cb.currentState(), BreakerHalfOpen) {
		cb.successes.Store(0)
		cb.logger.Info("Circuit breaker half-open, probing gateway")
	}
}

// IsBreakerFailure reports whether a call outcome counts against the
// breaker. Transport errors and overload statuses do; ordinary client
// errors mean the gateway is alive and answering.
func IsBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableStatus reports whether another attempt can change the
// outcome for this status.
func IsRetryableStatus(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}
	return statusCode == 408 || statusCode == 429
}
