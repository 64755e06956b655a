package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
	"github.com/quartzbi/metasync/utils"
)

// CloverStore persists collections in an embedded clover database so
// snapshots survive restarts. An empty path opens an in-memory database.
type CloverStore struct {
	db     *clover.DB
	path   string
	logger types.Logger
	state  atomic.Value
}

func NewCloverStore(logger types.Logger, config *types.StoreConfig) (types.StoreManager, error) {
	var backend types.StoreBackendConfig
	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, &backend); err != nil {
			return nil, types.WrapError(err, "failed to parse clover store config")
		}
	}

	db, err := clover.Open(backend.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	store := &CloverStore{
		db:     db,
		path:   backend.Path,
		logger: logger,
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (c *CloverStore) Start() error {
	if !c.transitionState(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	c.logger.Info("Clover store started", zap.String("path", c.path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.transitionState(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover store stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *CloverStore) CreateCollection(collectionName string) error {
	if collectionName == "" {
		return types.ErrCollectionEmpty
	}

	exists, err := c.db.HasCollection(collectionName)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}
	if exists {
		return types.ErrCollectionExists
	}

	if err := c.db.CreateCollection(collectionName); err != nil {
		return types.WrapError(err, "failed to create collection")
	}

	return nil
}

func (c *CloverStore) DropCollection(collectionName string) error {
	if err := c.db.DropCollection(collectionName); err != nil {
		return types.WrapError(err, "failed to drop collection")
	}
	return nil
}

func (c *CloverStore) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if request.Collection == "" {
		return nil, types.ErrCollectionEmpty
	}
	if len(request.Data) == 0 {
		return []string{}, nil
	}

	exists, err := c.db.HasCollection(request.Collection)
	if err != nil {
		return nil, types.WrapError(err, "failed to check collection existence")
	}
	if !exists {
		if err := c.db.CreateCollection(request.Collection); err != nil {
			return nil, types.WrapError(err, "failed to create collection")
		}
	}

	docs := make([]*clover.Document, 0, len(request.Data))
	ids := make([]string, 0, len(request.Data))
	now := time.Now().UnixNano()

	for i, data := range request.Data {
		dataMap, err := asDocument(data)
		if err != nil {
			return nil, err
		}

		internalID := uuid.New().String()
		dataMap["internal_id"] = internalID
		dataMap["cr_time"] = now + int64(i)
		dataMap["ch_time"] = now + int64(i)

		doc := clover.NewDocument()
		for key, value := range dataMap {
			doc.Set(key, value)
		}

		docs = append(docs, doc)
		ids = append(ids, internalID)
	}

	if err := c.db.Insert(request.Collection, docs...); err != nil {
		return nil, types.WrapError(err, "failed to insert documents")
	}

	return ids, nil
}

func (c *CloverStore) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	if request.Collection == "" {
		return nil, 0, types.ErrCollectionEmpty
	}

	exists, err := c.db.HasCollection(request.Collection)
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to check collection existence")
	}
	if !exists {
		return []map[string]interface{}{}, 0, nil
	}

	query := c.db.Query(request.Collection)
	if len(request.Filter) > 0 {
		query = applyCloverFilters(query, request.Filter)
	}

	// Total counts matches before pagination.
	totalCount, err := query.Count()
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to count documents")
	}

	for field, order := range request.Sort {
		query = query.Sort(clover.SortOption{Field: field, Direction: order})
	}
	if request.Skip > 0 {
		query = query.Skip(request.Skip)
	}
	if request.Limit > 0 {
		query = query.Limit(request.Limit)
	}

	cloverDocs, err := query.FindAll()
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to find documents")
	}

	results := make([]map[string]interface{}, 0, len(cloverDocs))
	for _, doc := range cloverDocs {
		docMap := make(map[string]interface{})
		if err := doc.Unmarshal(&docMap); err != nil {
			continue
		}
		delete(docMap, "_id")
		results = append(results, docMap)
	}

	return results, int64(totalCount), nil
}

func (c *CloverStore) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	if request.Collection == "" {
		return 0, types.ErrCollectionEmpty
	}

	exists, err := c.db.HasCollection(request.Collection)
	if err != nil {
		return 0, types.WrapError(err, "failed to check collection existence")
	}
	if !exists {
		return 0, nil
	}

	query := c.db.Query(request.Collection)
	if len(request.Filter) > 0 {
		query = applyCloverFilters(query, request.Filter)
	}

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching documents")
	}
	if count == 0 {
		return 0, nil
	}

	if err := query.Delete(); err != nil {
		return 0, types.WrapError(err, "failed to delete documents")
	}

	return int64(count), nil
}

func applyCloverFilters(query *clover.Query, filter map[string]interface{}) *clover.Query {
	for key, value := range filter {
		query = applyCloverFieldFilter(query, key, value)
	}
	return query
}

func applyCloverFieldFilter(query *clover.Query, key string, value interface{}) *clover.Query {
	operators, ok := value.(map[string]interface{})
	if !ok {
		return query.Where(clover.Field(key).Eq(value))
	}

	for op, opValue := range operators {
		switch op {
		case "$eq":
			query = query.Where(clover.Field(key).Eq(opValue))
		case "$ne":
			query = query.Where(clover.Field(key).Neq(opValue))
		case "$gt":
			query = query.Where(clover.Field(key).Gt(opValue))
		case "$gte":
			query = query.Where(clover.Field(key).GtEq(opValue))
		case "$lt":
			query = query.Where(clover.Field(key).Lt(opValue))
		case "$lte":
			query = query.Where(clover.Field(key).LtEq(opValue))
		case "$in":
			if arr, ok := opValue.([]interface{}); ok {
				query = query.Where(clover.Field(key).In(arr...))
			}
		case "$nin":
			if arr, ok := opValue.([]interface{}); ok {
				query = query.Where(clover.Field(key).In(arr...).Not())
			}
		case "$exists":
			if exists, ok := opValue.(bool); ok {
				if exists {
					query = query.Where(clover.Field(key).Exists())
				} else {
					query = query.Where(clover.Field(key).NotExists())
				}
			}
		}
	}

	return query
}

func (c *CloverStore) getState() State {
	return c.state.Load().(State)
}

func (c *CloverStore) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
