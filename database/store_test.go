package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzbi/metasync/logger"
	"github.com/quartzbi/metasync/types"
)

func newMemoryBackend(t *testing.T) types.StoreManager {
	t.Helper()

	store, err := NewManager(&types.StoreConfig{Enabled: true, Type: "memory"}, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })
	return store
}

func newCloverBackend(t *testing.T) types.StoreManager {
	t.Helper()

	store, err := NewManager(&types.StoreConfig{
		Enabled: true,
		Type:    "clover",
		Config:  map[string]interface{}{"path": t.TempDir()},
	}, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })
	return store
}

func eachBackend(t *testing.T, test func(t *testing.T, store types.StoreManager)) {
	t.Run("memory", func(t *testing.T) {
		test(t, newMemoryBackend(t))
	})
	t.Run("clover", func(t *testing.T) {
		test(t, newCloverBackend(t))
	})
}

func syncRun(runID, category string, errorCount int, startedAt time.Time) types.SyncRunRecord {
	return types.SyncRunRecord{
		RunID:          runID,
		Category:       category,
		RequestedCount: 10,
		CachedCount:    4,
		FetchedCount:   6 - errorCount,
		ErrorCount:     errorCount,
		DurationMillis: 120,
		StartedAt:      startedAt,
	}
}

func TestManagerValidation(t *testing.T) {
	_, err := NewManager(nil, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrStoreIsDisabled)

	_, err = NewManager(&types.StoreConfig{Enabled: false, Type: "memory"}, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrStoreIsDisabled)

	_, err = NewManager(&types.StoreConfig{Enabled: true, Type: "cassandra"}, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrStoreTypeUnknown)
}

func TestCustomBackendRegistration(t *testing.T) {
	RegisterStoreManager("fake", func(config *types.StoreConfig) (types.StoreManager, error) {
		return NewMemoryStore(logger.NewNop())
	})

	store, err := NewManager(&types.StoreConfig{Enabled: true, Type: "fake"}, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	_, err = store.CreateDocuments(context.Background(), types.CreateDocumentsRequest{
		Collection: types.CollectionSyncRuns,
		Data:       []interface{}{syncRun("r1", "metadata", 0, time.Now())},
	})
	assert.NoError(t, err)
}

func TestOperationsRequireRunningStore(t *testing.T) {
	store, err := NewManager(&types.StoreConfig{Enabled: true, Type: "memory"}, logger.NewNop(), nil)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.CreateDocuments(ctx, types.CreateDocumentsRequest{Collection: "c"})
	assert.ErrorIs(t, err, types.ErrStoreNotRunning)

	_, _, err = store.ReadDocuments(ctx, types.ReadDocumentsRequest{Collection: "c"})
	assert.ErrorIs(t, err, types.ErrStoreNotRunning)

	_, err = store.DeleteDocuments(ctx, types.DeleteDocumentsRequest{Collection: "c"})
	assert.ErrorIs(t, err, types.ErrStoreNotRunning)

	assert.ErrorIs(t, store.CreateCollection("c"), types.ErrStoreNotRunning)

	require.NoError(t, store.Start())
	assert.ErrorIs(t, store.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, store.Stop())
	assert.ErrorIs(t, store.Stop(), types.ErrServerNotRunning)
}

func TestCreateAndReadRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, store types.StoreManager) {
		ctx := context.Background()

		ids, err := store.CreateDocuments(ctx, types.CreateDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Data: []interface{}{
				syncRun("r1", "metadata", 0, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
				syncRun("r2", "tags", 2, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)),
			},
		})
		require.NoError(t, err)
		require.Len(t, ids, 2)

		docs, total, err := store.ReadDocuments(ctx, types.ReadDocumentsRequest{
			Collection: types.CollectionSyncRuns,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, docs, 2)

		for _, doc := range docs {
			assert.NotEmpty(t, doc["internal_id"])
			assert.NotNil(t, doc["cr_time"])
			assert.NotEmpty(t, doc["run_id"])
		}
	})
}

func TestReadWithFilter(t *testing.T) {
	eachBackend(t, func(t *testing.T, store types.StoreManager) {
		ctx := context.Background()

		_, err := store.CreateDocuments(ctx, types.CreateDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Data: []interface{}{
				syncRun("r1", "metadata", 0, time.Now()),
				syncRun("r2", "metadata", 3, time.Now()),
				syncRun("r3", "tags", 0, time.Now()),
			},
		})
		require.NoError(t, err)

		docs, total, err := store.ReadDocuments(ctx, types.ReadDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Filter:     map[string]interface{}{"category": "metadata"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, docs, 2)

		docs, total, err = store.ReadDocuments(ctx, types.ReadDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Filter: map[string]interface{}{
				"category":    "metadata",
				"error_count": map[string]interface{}{"$gt": 0},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, docs, 1)
		assert.Equal(t, "r2", docs[0]["run_id"])
	})
}

func TestReadSortAndPagination(t *testing.T) {
	eachBackend(t, func(t *testing.T, store types.StoreManager) {
		ctx := context.Background()

		base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		var records []interface{}
		for i := 0; i < 5; i++ {
			records = append(records, syncRun(
				string(rune('a'+i)), "metadata", i, base.Add(time.Duration(i)*time.Hour)))
		}

		_, err := store.CreateDocuments(ctx, types.CreateDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Data:       records,
		})
		require.NoError(t, err)

		docs, total, err := store.ReadDocuments(ctx, types.ReadDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Sort:       map[string]int{"error_count": -1},
			Limit:      2,
			Skip:       1,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, docs, 2)
		assert.Equal(t, "d", docs[0]["run_id"])
		assert.Equal(t, "c", docs[1]["run_id"])
	})
}

func TestDeleteWithFilter(t *testing.T) {
	eachBackend(t, func(t *testing.T, store types.StoreManager) {
		ctx := context.Background()

		_, err := store.CreateDocuments(ctx, types.CreateDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Data: []interface{}{
				syncRun("r1", "metadata", 0, time.Now()),
				syncRun("r2", "tags", 0, time.Now()),
				syncRun("r3", "tags", 0, time.Now()),
			},
		})
		require.NoError(t, err)

		deleted, err := store.DeleteDocuments(ctx, types.DeleteDocumentsRequest{
			Collection: types.CollectionSyncRuns,
			Filter:     map[string]interface{}{"category": "tags"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		_, total, err := store.ReadDocuments(ctx, types.ReadDocumentsRequest{
			Collection: types.CollectionSyncRuns,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)

		deleted, err = store.DeleteDocuments(ctx, types.DeleteDocumentsRequest{
			Collection: "missing",
		})
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestCollectionManagement(t *testing.T) {
	eachBackend(t, func(t *testing.T, store types.StoreManager) {
		require.NoError(t, store.CreateCollection(types.CollectionUserActivity))
		assert.ErrorIs(t, store.CreateCollection(types.CollectionUserActivity), types.ErrCollectionExists)

		require.NoError(t, store.DropCollection(types.CollectionUserActivity))

		_, total, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
			Collection: types.CollectionUserActivity,
		})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestEmptyCollectionNameRejected(t *testing.T) {
	eachBackend(t, func(t *testing.T, store types.StoreManager) {
		ctx := context.Background()

		_, err := store.CreateDocuments(ctx, types.CreateDocumentsRequest{
			Data: []interface{}{syncRun("r1", "metadata", 0, time.Now())},
		})
		assert.ErrorIs(t, err, types.ErrCollectionEmpty)

		_, _, err = store.ReadDocuments(ctx, types.ReadDocumentsRequest{})
		assert.ErrorIs(t, err, types.ErrCollectionEmpty)
	})
}

func TestMemoryStoreIsolatesDocuments(t *testing.T) {
	store := newMemoryBackend(t)
	ctx := context.Background()

	_, err := store.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: types.CollectionUserActivity,
		Data: []interface{}{map[string]interface{}{
			"user_name": "jane",
			"entries":   []interface{}{map[string]interface{}{"event": "GetDashboard"}},
		}},
	})
	require.NoError(t, err)

	docs, _, err := store.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionUserActivity,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs[0]["user_name"] = "mallory"
	docs[0]["entries"].([]interface{})[0].(map[string]interface{})["event"] = "DeleteDashboard"

	fresh, _, err := store.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionUserActivity,
	})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "jane", fresh[0]["user_name"])
	assert.Equal(t, "GetDashboard",
		fresh[0]["entries"].([]interface{})[0].(map[string]interface{})["event"])
}

func TestMemoryStoreNestedFilter(t *testing.T) {
	store := newMemoryBackend(t)
	ctx := context.Background()

	_, err := store.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: types.CollectionUserActivity,
		Data: []interface{}{
			map[string]interface{}{
				"user_name": "jane",
				"report":    map[string]interface{}{"window": map[string]interface{}{"hours": 24}},
			},
			map[string]interface{}{
				"user_name": "omar",
				"report":    map[string]interface{}{"window": map[string]interface{}{"hours": 6}},
			},
		},
	})
	require.NoError(t, err)

	docs, _, err := store.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionUserActivity,
		Filter:     map[string]interface{}{"report.window.hours": map[string]interface{}{"$gte": 12}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "jane", docs[0]["user_name"])
}
