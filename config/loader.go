package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quartzbi/metasync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.Config, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return config, nil
}

func (l *Loader) Validate(config *types.Config) error {
	if config == nil {
		return types.ErrConfigIsNil
	}
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// Defaults returns the configuration a bare file overrides. Every component
// can run from these values except the gateway and lookup clients, which
// need addresses.
func Defaults() *types.Config {
	return &types.Config{
		Name:    "metasync",
		Version: "0.0.0",
		Logger: &types.LoggerConfig{
			Type:  "zap",
			Level: "info",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Cache: &types.CacheConfig{
			MaxSize: 1000,
			TTL: types.CacheTTLs{
				Metadata:        5 * time.Minute,
				Permissions:     10 * time.Minute,
				Tags:            10 * time.Minute,
				DescribedAssets: 15 * time.Minute,
			},
		},
		Sync: &types.SyncConfig{
			MaxConcurrency: 4,
			BatchSize:      20,
		},
		Activity: &types.ActivityConfig{
			PageSize:             50,
			MaxPagesPerQuery:     20,
			MaxEventsPerType:     1000,
			MaxActivitiesPerUser: 100,
			EventSource:          "quicksight.amazonaws.com",
			EventNames: []string{
				"GetDashboard",
				"GetAnalysis",
				"QueryDatabase",
				"CreateDashboard",
				"UpdateDashboard",
			},
			DefaultWindow: 24 * time.Hour,
		},
		Limiter: &types.LimiterConfig{
			RatePerSecond: 10,
			Burst:         20,
		},
		Retry: &types.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.2,
		},
		Lookup: &types.LookupConfig{
			Region: "us-east-1",
		},
		Gateway: &types.GatewayConfig{
			Timeout:         10 * time.Second,
			MaxConnsPerHost: 64,
			Breaker: &types.BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 2,
			},
		},
		Store: &types.StoreConfig{
			Enabled: false,
			Type:    "memory",
		},
		Scheduler: &types.SchedulerConfig{
			Enabled:  false,
			Timezone: "UTC",
			Jobs: &types.SchedulerJobs{
				CacheStats: &types.JobConfig{
					Enabled:  false,
					Schedule: "0 */5 * * * *",
				},
				CachePrune: &types.JobConfig{
					Enabled:  false,
					Schedule: "30 */10 * * * *",
				},
				ActivitySnapshot: &types.SnapshotConfig{
					Enabled:  false,
					Schedule: "0 0 * * * *",
					Window:   24 * time.Hour,
				},
			},
		},
	}
}
