package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quartzbi/metasync/activity"
	"github.com/quartzbi/metasync/bulk"
	"github.com/quartzbi/metasync/cache"
	"github.com/quartzbi/metasync/client"
	"github.com/quartzbi/metasync/config"
	"github.com/quartzbi/metasync/cron"
	"github.com/quartzbi/metasync/database"
	"github.com/quartzbi/metasync/limiter"
	"github.com/quartzbi/metasync/logger"
	"github.com/quartzbi/metasync/lookup"
	"github.com/quartzbi/metasync/metrics"
	"github.com/quartzbi/metasync/retry"
	"github.com/quartzbi/metasync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service wires the synchronization components together and owns their
// lifecycle. Construction is explicit: every component receives its
// collaborators through its constructor and nothing is reached through
// package globals.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	configManager *config.ConfigurationManager
	logger        types.Logger
	metrics       types.MetricsManager
	store         types.StoreManager
	limiter       types.RateLimiter
	retryPolicy   types.RetryPolicy
	assetAPI      types.AssetAPI
	eventLookup   types.EventLookupAPI
	registry      *cache.Registry

	metadata    *bulk.Orchestrator[types.AssetMetadata]
	permissions *bulk.Orchestrator[[]types.Permission]
	tags        *bulk.Orchestrator[[]types.Tag]
	described   *bulk.Orchestrator[types.AssetDetail]
	engine      *activity.Engine
	cron        types.CronManager

	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
}

// Option overrides one of the production adapters, mainly for tests and
// embedders that bring their own transport.
type Option func(*Service)

func WithAssetAPI(api types.AssetAPI) Option {
	return func(s *Service) { s.assetAPI = api }
}

func WithEventLookup(api types.EventLookupAPI) Option {
	return func(s *Service) { s.eventLookup = api }
}

func WithStore(store types.StoreManager) Option {
	return func(s *Service) { s.store = store }
}

func NewService(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	configManager, err := config.NewConfigurationManager(serviceCtx, configPath)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create config manager")
	}

	cfg := configManager.GetConfig()

	log, err := logger.New(cfg.Logger)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create logger")
	}

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		configManager:   configManager,
		logger:          log,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	s.state.Store(StateStopped)

	for _, opt := range opts {
		opt(s)
	}

	if err := s.buildComponents(cfg); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

// buildComponents constructs whatever the options did not inject, in
// dependency order. Only construction happens here; Start brings the
// components up.
func (s *Service) buildComponents(cfg *types.Config) error {
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsManager, err := metrics.NewManager(cfg.Metrics, s.logger)
		if err != nil {
			return types.WrapError(err, "failed to create metrics manager")
		}
		s.metrics = metricsManager
	}

	if s.store == nil && cfg.Store != nil && cfg.Store.Enabled {
		storeManager, err := database.NewManager(cfg.Store, s.logger, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to create store manager")
		}
		s.store = storeManager
	}

	s.limiter = limiter.NewTokenBucket(cfg.Limiter)
	s.retryPolicy = retry.NewPolicy(cfg.Retry, s.logger)
	s.registry = cache.NewRegistry(cfg.Cache, s.logger, s.metrics)

	if s.assetAPI == nil {
		gateway, err := client.NewGateway(cfg.Gateway, s.logger, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to create gateway client")
		}
		s.assetAPI = gateway
	}

	if s.eventLookup == nil {
		eventLookup, err := lookup.NewCloudTrailLookup(s.ctx, cfg.Lookup)
		if err != nil {
			return types.WrapError(err, "failed to create event lookup client")
		}
		s.eventLookup = eventLookup
	}

	s.metadata = bulk.NewOrchestrator[types.AssetMetadata](
		s.registry.Metadata(), s.limiter, s.retryPolicy, cfg.Sync, s.logger, s.metrics)
	s.permissions = bulk.NewOrchestrator[[]types.Permission](
		s.registry.Permissions(), s.limiter, s.retryPolicy, cfg.Sync, s.logger, s.metrics)
	s.tags = bulk.NewOrchestrator[[]types.Tag](
		s.registry.Tags(), s.limiter, s.retryPolicy, cfg.Sync, s.logger, s.metrics)
	s.described = bulk.NewOrchestrator[types.AssetDetail](
		s.registry.DescribedAssets(), s.limiter, s.retryPolicy, cfg.Sync, s.logger, s.metrics)

	s.engine = activity.NewEngine(
		s.eventLookup, s.limiter, s.retryPolicy, cfg.Activity, s.logger, s.metrics)

	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		cronManager, err := cron.NewManager(s.ctx, cfg.Scheduler, s.logger, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to create cron manager")
		}
		s.cron = cronManager
	}

	return nil
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		s.logger.ErrorWithErrStack("Failed to start components", err)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully",
		zap.String("name", s.configManager.GetConfig().Name))
	return nil
}

// Run starts the service and blocks until it shuts down, either through
// Stop, a termination signal, or the parent context ending.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	<-s.done
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	<-s.done
	s.wg.Wait()

	return nil
}

// Done closes once the service has fully shut down.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

// Caches exposes the cache registry for administrative access: stats
// snapshots, manual pruning, invalidation on upstream writes.
func (s *Service) Caches() *cache.Registry {
	return s.registry
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) startComponents(ctx context.Context) error {
	if err := s.configManager.Start(); err != nil {
		return types.WrapError(err, "failed to start config manager")
	}

	if s.metrics != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.metrics.Start(); err != nil {
				s.logger.Error("Failed to start metrics manager", zap.Error(err))
			}
		}
	}

	if s.store != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.store.Start(); err != nil {
				return types.WrapError(err, "failed to start store manager")
			}
			if err := s.ensureCollections(); err != nil {
				return err
			}
		}
	}

	if lm, ok := s.assetAPI.(types.LifecycleManager); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := lm.Start(); err != nil {
				return types.WrapError(err, "failed to start gateway client")
			}
		}
	}

	if s.cron != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.registerJobs(); err != nil {
				return err
			}
			if err := s.cron.Start(); err != nil {
				return types.WrapError(err, "failed to start cron manager")
			}
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errors []error

	s.logger.Info("Stopping service components...")

	g, gCtx := errgroup.WithContext(ctx)

	if s.cron != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.cron.Stop(); err != nil {
					s.logger.Error("Failed to stop cron manager", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if lm, ok := s.assetAPI.(types.LifecycleManager); ok {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := lm.Stop(); err != nil {
					s.logger.Error("Failed to stop gateway client", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errors = append(errors, err)
		}
	}

	g, _ = errgroup.WithContext(context.Background())

	if s.store != nil {
		g.Go(func() error {
			if err := s.store.Stop(); err != nil {
				s.logger.Error("Failed to stop store manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if s.metrics != nil {
		g.Go(func() error {
			if err := s.metrics.Stop(); err != nil {
				s.logger.Error("Failed to stop metrics manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		errors = append(errors, err)
	}

	if err := s.configManager.Stop(); err != nil {
		s.logger.Error("Failed to stop config manager", zap.Error(err))
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errors)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

// ensureCollections creates the persistence collections the operations
// write to. Existing collections are fine.
func (s *Service) ensureCollections() error {
	for _, name := range []string{types.CollectionUserActivity, types.CollectionSyncRuns} {
		if err := s.store.CreateCollection(name); err != nil && !types.IsError(err, types.ErrCollectionExists) {
			return types.WrapError(err, "failed to create collection "+name)
		}
	}
	return nil
}

// registerJobs adds the standing maintenance jobs before the scheduler
// starts. Jobs run against the service context, not a request context.
func (s *Service) registerJobs() error {
	cfg := s.configManager.GetConfig()
	if cfg.Scheduler == nil || cfg.Scheduler.Jobs == nil {
		return nil
	}
	jobs := cfg.Scheduler.Jobs

	if job := jobs.CacheStats; job != nil && job.Enabled {
		if err := s.cron.Add("cache_stats", job.Schedule, s.registry.LogAllStats); err != nil {
			return types.WrapError(err, "failed to register cache_stats job")
		}
	}

	if job := jobs.CachePrune; job != nil && job.Enabled {
		if err := s.cron.Add("cache_prune", job.Schedule, func() {
			if removed := s.registry.PruneExpired(); removed > 0 {
				s.logger.Info("Pruned expired cache entries", zap.Int("removed", removed))
			}
		}); err != nil {
			return types.WrapError(err, "failed to register cache_prune job")
		}
	}

	if job := jobs.ActivitySnapshot; job != nil && job.Enabled {
		window := job.Window
		if err := s.cron.Add("activity_snapshot", job.Schedule, func() {
			s.snapshotActivity(window)
		}); err != nil {
			return types.WrapError(err, "failed to register activity_snapshot job")
		}
	}

	return nil
}

func (s *Service) snapshotActivity(window time.Duration) {
	if window <= 0 {
		window = 24 * time.Hour
	}

	end := time.Now().UTC()
	report, err := s.UserActivity(s.ctx, types.Window{Start: end.Add(-window), End: end})
	if err != nil {
		s.logger.Error("Activity snapshot failed", zap.Error(err))
		return
	}

	s.logger.Info("Activity snapshot complete",
		zap.Int("users", len(report.Users)),
		zap.Int("events_scanned", report.EventsScanned),
		zap.Bool("truncated", report.Truncated))
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
		close(sigChan)
	}()
}

// contextMonitor performs the actual shutdown once the service context
// ends, whatever ended it. done closes only after every component stopped.
func (s *Service) contextMonitor() {
	defer s.wg.Done()

	<-s.ctx.Done()

	s.transitionState(StateRunning, StateStopping)

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.setState(StateStopped)
	_ = s.logger.Sync()
	close(s.done)
}
