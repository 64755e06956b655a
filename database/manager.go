package database

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var customStoreCreators = make(map[string]types.StoreManagerCreator)

// RegisterStoreManager registers a custom store backend under a type name
// so it can be selected from config like the built-in ones.
func RegisterStoreManager(storeType string, creator types.StoreManagerCreator) {
	customStoreCreators[storeType] = creator
}

func NewManager(config *types.StoreConfig, logger types.Logger, metrics types.MetricsManager) (types.StoreManager, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrStoreIsDisabled
	}

	var impl types.StoreManager
	var err error

	switch config.Type {
	case "clover":
		impl, err = NewCloverStore(logger, config)
	case "memory":
		impl, err = NewMemoryStore(logger)
	default:
		if creator, exists := customStoreCreators[config.Type]; exists {
			impl, err = creator(config)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", config.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStore(logger, metrics, impl), nil
}

// instrumentedStore wraps a backend with the lifecycle state machine,
// running-state guards and per-operation metrics, so backends only have to
// implement storage.
type instrumentedStore struct {
	impl    types.StoreManager
	logger  types.Logger
	metrics types.MetricsManager
	state   atomic.Value
}

func newInstrumentedStore(logger types.Logger, metrics types.MetricsManager, impl types.StoreManager) types.StoreManager {
	store := &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}

	store.state.Store(StateStopped)
	return store
}

func (s *instrumentedStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := s.impl.Start(); err != nil {
		s.setState(StateStopped)
		return err
	}

	s.setState(StateRunning)
	s.logger.Info("Store started")
	return nil
}

func (s *instrumentedStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StateStopped)

	if err := s.impl.Stop(); err != nil {
		s.logger.Error("Failed to stop store backend", zap.Error(err))
		return err
	}

	s.logger.Info("Store stopped gracefully")
	return nil
}

func (s *instrumentedStore) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *instrumentedStore) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if !s.IsRunning() {
		return nil, types.ErrStoreNotRunning
	}

	start := time.Now()
	ids, err := s.impl.CreateDocuments(ctx, request)
	s.record("create", request.Collection, err, start)
	return ids, err
}

func (s *instrumentedStore) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	if !s.IsRunning() {
		return nil, 0, types.ErrStoreNotRunning
	}

	start := time.Now()
	docs, total, err := s.impl.ReadDocuments(ctx, request)
	s.record("read", request.Collection, err, start)
	return docs, total, err
}

func (s *instrumentedStore) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	if !s.IsRunning() {
		return 0, types.ErrStoreNotRunning
	}

	start := time.Now()
	deleted, err := s.impl.DeleteDocuments(ctx, request)
	s.record("delete", request.Collection, err, start)
	return deleted, err
}

func (s *instrumentedStore) CreateCollection(collectionName string) error {
	if !s.IsRunning() {
		return types.ErrStoreNotRunning
	}
	return s.impl.CreateCollection(collectionName)
}

func (s *instrumentedStore) DropCollection(collectionName string) error {
	if !s.IsRunning() {
		return types.ErrStoreNotRunning
	}
	return s.impl.DropCollection(collectionName)
}

func (s *instrumentedStore) record(operation, collection string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	labels := map[string]string{
		"operation":  operation,
		"collection": collection,
		"result":     result,
	}
	s.metrics.Counter("store_operations_total", labels).Inc()
	s.metrics.Histogram("store_operation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		map[string]string{"operation": operation, "collection": collection},
	).ObserveDuration(start)
}

func (s *instrumentedStore) getState() State {
	return s.state.Load().(State)
}

func (s *instrumentedStore) setState(newState State) {
	s.state.CompareAndSwap(s.getState(), newState)
}

func (s *instrumentedStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
