package bulk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quartzbi/metasync/cache"
	"github.com/quartzbi/metasync/types"
)

// Request describes one bulk fetch. FetchOne retrieves a single item from
// the upstream API; the orchestrator owns batching, concurrency, rate
// limiting, retries and caching around it. Zero MaxConcurrency/BatchSize
// fall back to the configured defaults.
type Request[T any] struct {
	IDs            []string
	FetchOne       func(ctx context.Context, id string) (T, error)
	CachePrefix    string
	MaxConcurrency int
	BatchSize      int
	Fallback       T
}

// Result maps every unique requested id to a value. Ids whose fetch failed
// after retries carry the request's Fallback and are counted in ErrorCount;
// the map is always total over the deduplicated input.
type Result[T any] struct {
	Data           map[string]T
	CachedCount    int
	FetchedCount   int
	ErrorCount     int
	DurationMillis int64
}

// Orchestrator runs bulk fetches for one data category against its cache.
type Orchestrator[T any] struct {
	cache          *cache.Cache[T]
	limiter        types.RateLimiter
	retry          types.RetryPolicy
	logger         types.Logger
	metrics        types.MetricsManager
	maxConcurrency int
	batchSize      int
}

func NewOrchestrator[T any](
	c *cache.Cache[T],
	limiter types.RateLimiter,
	retryPolicy types.RetryPolicy,
	config *types.SyncConfig,
	logger types.Logger,
	metrics types.MetricsManager,
) *Orchestrator[T] {
	o := &Orchestrator[T]{
		cache:          c,
		limiter:        limiter,
		retry:          retryPolicy,
		logger:         logger,
		metrics:        metrics,
		maxConcurrency: 4,
		batchSize:      20,
	}

	if config != nil {
		if config.MaxConcurrency > 0 {
			o.maxConcurrency = config.MaxConcurrency
		}
		if config.BatchSize > 0 {
			o.batchSize = config.BatchSize
		}
	}

	return o
}

// Fetch resolves every id in the request, serving fresh cache entries
// first and fetching the rest in sequential batches with bounded
// concurrency. Per-item failures are absorbed into the result; the only
// error Fetch returns is a canceled or expired context.
func (o *Orchestrator[T]) Fetch(ctx context.Context, req Request[T]) (*Result[T], error) {
	if req.FetchOne == nil {
		return nil, types.ErrSyncNoFetcher
	}
	if req.CachePrefix == "" {
		return nil, types.ErrSyncEmptyPrefix
	}

	start := time.Now()
	log := o.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("cache", o.cache.Name()),
	)

	unique := dedupe(req.IDs)
	result := &Result[T]{Data: make(map[string]T, len(unique))}

	missing := make([]string, 0, len(unique))
	for _, id := range unique {
		if value, ok := o.cache.Get(cacheKey(req.CachePrefix, id)); ok {
			result.Data[id] = value
			result.CachedCount++
		} else {
			missing = append(missing, id)
		}
	}

	log.Debug("Bulk fetch started",
		zap.Int("requested", len(req.IDs)),
		zap.Int("unique", len(unique)),
		zap.Int("cached", result.CachedCount),
		zap.Int("missing", len(missing)),
	)

	if len(missing) == 0 {
		result.DurationMillis = time.Since(start).Milliseconds()
		o.record(result, start)
		return result, nil
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = o.batchSize
	}
	maxConcurrency := req.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = o.maxConcurrency
	}

	var mu sync.Mutex
	for offset := 0; offset < len(missing); offset += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := offset + batchSize
		if end > len(missing) {
			end = len(missing)
		}

		var g errgroup.Group
		g.SetLimit(maxConcurrency)
		for _, id := range missing[offset:end] {
			g.Go(func() error {
				o.fetchInto(ctx, req, id, result, &mu, log)
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.DurationMillis = time.Since(start).Milliseconds()
	o.record(result, start)

	log.Info("Bulk fetch finished",
		zap.Int("cached", result.CachedCount),
		zap.Int("fetched", result.FetchedCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int64("duration_ms", result.DurationMillis),
	)

	return result, nil
}

// fetchInto resolves one id and records the outcome. A fetch that fails
// after retries writes the fallback to the result map and never touches
// the cache.
func (o *Orchestrator[T]) fetchInto(ctx context.Context, req Request[T], id string, result *Result[T], mu *sync.Mutex, log types.Logger) {
	var value T
	err := o.retry.Run(ctx, o.cache.Name()+" fetch", func(ctx context.Context) error {
		// Every attempt pays for its own token so retries stay inside
		// the rate budget.
		if err := o.limiter.Acquire(ctx); err != nil {
			return err
		}
		fetched, err := req.FetchOne(ctx, id)
		if err != nil {
			return err
		}
		value = fetched
		return nil
	})

	if err != nil {
		log.Warn("Item fetch failed, recording fallback",
			zap.String("id", id),
			zap.Error(err),
		)
		mu.Lock()
		result.Data[id] = req.Fallback
		result.ErrorCount++
		mu.Unlock()
		return
	}

	o.cache.Set(cacheKey(req.CachePrefix, id), value)

	mu.Lock()
	result.Data[id] = value
	result.FetchedCount++
	mu.Unlock()
}

func (o *Orchestrator[T]) record(result *Result[T], start time.Time) {
	if o.metrics == nil {
		return
	}

	labels := map[string]string{"cache": o.cache.Name()}
	o.metrics.Counter("bulk_fetch_runs_total", labels).Inc()
	o.metrics.Counter("bulk_fetch_cached_total", labels).Add(float64(result.CachedCount))
	o.metrics.Counter("bulk_fetch_fetched_total", labels).Add(float64(result.FetchedCount))
	o.metrics.Counter("bulk_fetch_errors_total", labels).Add(float64(result.ErrorCount))
	o.metrics.Histogram("bulk_fetch_duration_seconds",
		[]float64{0.05, 0.1, 0.5, 1, 5, 15, 60}, labels).ObserveDuration(start)
}

func cacheKey(prefix, id string) string {
	return prefix + ":" + id
}

// dedupe keeps the first occurrence of each id in input order.
func dedupe(ids []string) []string {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
