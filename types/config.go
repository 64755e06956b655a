package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *Config
}

type Config struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Version   string           `yaml:"version" json:"version" validate:"required"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache"`
	Sync      *SyncConfig      `yaml:"sync" json:"sync"`
	Activity  *ActivityConfig  `yaml:"activity" json:"activity"`
	Limiter   *LimiterConfig   `yaml:"limiter" json:"limiter"`
	Retry     *RetryConfig     `yaml:"retry" json:"retry"`
	Lookup    *LookupConfig    `yaml:"lookup" json:"lookup"`
	Gateway   *GatewayConfig   `yaml:"gateway" json:"gateway"`
	Store     *StoreConfig     `yaml:"store" json:"store"`
	Scheduler *SchedulerConfig `yaml:"scheduler" json:"scheduler"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}

type CacheConfig struct {
	MaxSize int           `yaml:"max_size" json:"max_size" validate:"min=1"`
	TTL     CacheTTLs     `yaml:"ttl" json:"ttl"`
	Sweep   time.Duration `yaml:"sweep" json:"sweep" validate:"min=0"`
}

type CacheTTLs struct {
	Metadata        time.Duration `yaml:"metadata" json:"metadata" validate:"min=0"`
	Permissions     time.Duration `yaml:"permissions" json:"permissions" validate:"min=0"`
	Tags            time.Duration `yaml:"tags" json:"tags" validate:"min=0"`
	DescribedAssets time.Duration `yaml:"described_assets" json:"described_assets" validate:"min=0"`
}

type SyncConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1"`
	BatchSize      int `yaml:"batch_size" json:"batch_size" validate:"min=1"`
}

type ActivityConfig struct {
	PageSize             int32         `yaml:"page_size" json:"page_size" validate:"min=1,max=50"`
	MaxPagesPerQuery     int           `yaml:"max_pages_per_query" json:"max_pages_per_query" validate:"min=1"`
	MaxEventsPerType     int           `yaml:"max_events_per_type" json:"max_events_per_type" validate:"min=1"`
	MaxActivitiesPerUser int           `yaml:"max_activities_per_user" json:"max_activities_per_user" validate:"min=1"`
	EventSource          string        `yaml:"event_source" json:"event_source"`
	EventNames           []string      `yaml:"event_names" json:"event_names"`
	DefaultWindow        time.Duration `yaml:"default_window" json:"default_window" validate:"min=0"`
}

type LimiterConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second" validate:"gt=0"`
	Burst         int     `yaml:"burst" json:"burst" validate:"min=1"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay" validate:"min=0"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay" validate:"min=0"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier" validate:"min=1"`
	Jitter      float64       `yaml:"jitter" json:"jitter" validate:"min=0,max=1"`
}

type LookupConfig struct {
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

type GatewayConfig struct {
	BaseURL         string         `yaml:"base_url" json:"base_url"`
	Timeout         time.Duration  `yaml:"timeout" json:"timeout"`
	MaxConnsPerHost int            `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	Breaker         *BreakerConfig `yaml:"breaker" json:"breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type StoreConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

// StoreBackendConfig is the backend-specific part of StoreConfig. An empty
// path means an in-memory database.
type StoreBackendConfig struct {
	Path string `yaml:"path" json:"path"`
}

type SchedulerConfig struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Timezone string         `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
	Jobs     *SchedulerJobs `yaml:"jobs" json:"jobs"`
}

type SchedulerJobs struct {
	CacheStats       *JobConfig      `yaml:"cache_stats" json:"cache_stats"`
	CachePrune       *JobConfig      `yaml:"cache_prune" json:"cache_prune"`
	ActivitySnapshot *SnapshotConfig `yaml:"activity_snapshot" json:"activity_snapshot"`
}

type JobConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Schedule string `yaml:"schedule" json:"schedule" validate:"required_if=Enabled true"`
}

type SnapshotConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Schedule string        `yaml:"schedule" json:"schedule" validate:"required_if=Enabled true"`
	Window   time.Duration `yaml:"window" json:"window" validate:"min=0"`
}
