package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
)

// Registry owns the per-category caches. It is constructed explicitly and
// passed to whoever needs it; there is no package-level instance. Each
// category cache is built lazily, once, with its own TTL from config.
type Registry struct {
	maxSize int
	ttls    types.CacheTTLs
	logger  types.Logger
	metrics types.MetricsManager

	mu    sync.RWMutex
	slots *registrySlots
}

// registrySlots holds the lazily built caches. Reset swaps the whole struct
// so the sync.Once guards stay valid for concurrent readers.
type registrySlots struct {
	metadataOnce  sync.Once
	metadata      *Cache[types.AssetMetadata]
	permsOnce     sync.Once
	permissions   *Cache[[]types.Permission]
	tagsOnce      sync.Once
	tags          *Cache[[]types.Tag]
	describedOnce sync.Once
	described     *Cache[types.AssetDetail]
}

func NewRegistry(config *types.CacheConfig, logger types.Logger, metrics types.MetricsManager) *Registry {
	r := &Registry{
		maxSize: 1000,
		logger:  logger,
		metrics: metrics,
		slots:   &registrySlots{},
	}

	if config != nil {
		if config.MaxSize > 0 {
			r.maxSize = config.MaxSize
		}
		r.ttls = config.TTL
	}

	return r
}

// Categories lists the known cache categories in a fixed order.
func Categories() []string {
	return []string{
		types.CategoryMetadata,
		types.CategoryPermissions,
		types.CategoryTags,
		types.CategoryDescribedAssets,
	}
}

func (r *Registry) current() *registrySlots {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots
}

func (r *Registry) Metadata() *Cache[types.AssetMetadata] {
	s := r.current()
	s.metadataOnce.Do(func() {
		s.metadata = New[types.AssetMetadata](types.CategoryMetadata, r.maxSize, r.ttls.Metadata, r.logger)
	})
	return s.metadata
}

func (r *Registry) Permissions() *Cache[[]types.Permission] {
	s := r.current()
	s.permsOnce.Do(func() {
		s.permissions = New[[]types.Permission](types.CategoryPermissions, r.maxSize, r.ttls.Permissions, r.logger)
	})
	return s.permissions
}

func (r *Registry) Tags() *Cache[[]types.Tag] {
	s := r.current()
	s.tagsOnce.Do(func() {
		s.tags = New[[]types.Tag](types.CategoryTags, r.maxSize, r.ttls.Tags, r.logger)
	})
	return s.tags
}

func (r *Registry) DescribedAssets() *Cache[types.AssetDetail] {
	s := r.current()
	s.describedOnce.Do(func() {
		s.described = New[types.AssetDetail](types.CategoryDescribedAssets, r.maxSize, r.ttls.DescribedAssets, r.logger)
	})
	return s.described
}

// ForCategory returns the category's cache through its type-independent
// view. Unknown categories return false.
func (r *Registry) ForCategory(name string) (View, bool) {
	switch name {
	case types.CategoryMetadata:
		return r.Metadata(), true
	case types.CategoryPermissions:
		return r.Permissions(), true
	case types.CategoryTags:
		return r.Tags(), true
	case types.CategoryDescribedAssets:
		return r.DescribedAssets(), true
	default:
		return nil, false
	}
}

// ClearAll empties every category cache and zeroes their counters.
func (r *Registry) ClearAll() {
	for _, name := range Categories() {
		if view, ok := r.ForCategory(name); ok {
			view.Clear()
		}
	}
}

// PruneExpired sweeps expired entries from every category and returns the
// total number removed.
func (r *Registry) PruneExpired() int {
	pruned := 0
	for _, name := range Categories() {
		if view, ok := r.ForCategory(name); ok {
			pruned += view.PruneExpired()
		}
	}
	return pruned
}

// LogAllStats writes one log line per category and refreshes the cache
// gauges. Read-only: it never mutates cache contents or counters.
func (r *Registry) LogAllStats() {
	for _, name := range Categories() {
		view, ok := r.ForCategory(name)
		if !ok {
			continue
		}
		stats := view.Stats()

		r.logger.Info("Cache stats",
			zap.String("cache", stats.Name),
			zap.Int("size", stats.Size),
			zap.Uint64("hits", stats.Hits),
			zap.Uint64("misses", stats.Misses),
			zap.Float64("hit_rate", stats.HitRate),
		)

		if r.metrics != nil {
			labels := map[string]string{"cache": stats.Name}
			r.metrics.Gauge("cache_size", labels).Set(float64(stats.Size))
			r.metrics.Gauge("cache_hits", labels).Set(float64(stats.Hits))
			r.metrics.Gauge("cache_misses", labels).Set(float64(stats.Misses))
		}
	}
}

// Reset discards every cache instance. The next accessor call rebuilds its
// category from scratch. Intended for tests and administrative resets.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.slots = &registrySlots{}
	r.mu.Unlock()
}
