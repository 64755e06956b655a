package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheCategoryUnknown = errors.New("cache category unknown")
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrRegistryClosed       = errors.New("cache registry closed")
)

var (
	ErrSyncNoFetcher      = errors.New("sync fetch function is nil")
	ErrSyncEmptyPrefix    = errors.New("sync cache prefix is empty")
	ErrSyncAborted        = errors.New("sync aborted")
	ErrFetchExhausted     = errors.New("fetch retries exhausted")
	ErrRateLimiterClosed  = errors.New("rate limiter closed")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrOperationPermanent = errors.New("operation not retryable")
)

var (
	ErrLookupPageFailed    = errors.New("event lookup page failed")
	ErrLookupNotConfigured = errors.New("event lookup not configured")
	ErrActivityWindowEmpty = errors.New("activity window is empty")
	ErrActivityAborted     = errors.New("activity aggregation aborted")
)

var (
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrClientTimeout         = errors.New("client timeout")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
	ErrGatewayStatus         = errors.New("gateway returned error status")
	ErrAssetNotFound         = errors.New("asset not found")
)

var (
	ErrStoreTypeUnknown    = errors.New("store type unknown")
	ErrStoreNotRunning     = errors.New("store not running")
	ErrStoreIsDisabled     = errors.New("store is disabled")
	ErrCollectionEmpty     = errors.New("collection name is empty")
	ErrCollectionExists    = errors.New("collection already exists")
	ErrDocumentInvalid     = errors.New("document invalid")
	ErrStoreOperationError = errors.New("store operation failed")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronIsRunning         = errors.New("cron scheduler is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobFailed         = errors.New("cron job failed")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
	ErrMetricsNotRunning    = errors.New("metrics manager not running")
)

var (
	ErrLoggerTypeUnknown = errors.New("logger type unknown")
	ErrLogLevelInvalid   = errors.New("log level invalid")
	ErrLogFileIsEmpty    = errors.New("log file path is empty")
)

var (
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrServerAlreadyRunning = errors.New("component already running")
	ErrServerNotRunning     = errors.New("component not running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrOperationFailed  = errors.New("operation failed")
	ErrContextCancelled = errors.New("context cancelled")
	ErrContextTimeout   = errors.New("context timeout")
	ErrInvalidState     = errors.New("invalid state")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
