package types

import (
	"context"
	"time"
)

const (
	CollectionUserActivity = "user_activity"
	CollectionSyncRuns     = "sync_runs"
)

// StoreManager persists aggregation snapshots and sync-run summaries. The
// store is append-only: records are written once and pruned by age.
type StoreManager interface {
	LifecycleManager
	CreateDocuments(ctx context.Context, request CreateDocumentsRequest) ([]string, error)
	ReadDocuments(ctx context.Context, request ReadDocumentsRequest) ([]map[string]interface{}, int64, error)
	DeleteDocuments(ctx context.Context, request DeleteDocumentsRequest) (int64, error)
	CreateCollection(collectionName string) error
	DropCollection(collectionName string) error
}

type StoreManagerCreator func(config *StoreConfig) (StoreManager, error)

type CreateDocumentsRequest struct {
	Collection string
	Data       []interface{}
}

type ReadDocumentsRequest struct {
	Collection string
	Filter     map[string]interface{}
	Sort       map[string]int
	Limit      int
	Skip       int
}

type DeleteDocumentsRequest struct {
	Collection string
	Filter     map[string]interface{}
}

// SyncRunRecord summarizes one bulk fetch run for the sync_runs collection.
type SyncRunRecord struct {
	RunID          string    `json:"run_id"`
	Category       string    `json:"category"`
	RequestedCount int       `json:"requested_count"`
	CachedCount    int       `json:"cached_count"`
	FetchedCount   int       `json:"fetched_count"`
	ErrorCount     int       `json:"error_count"`
	DurationMillis int64     `json:"duration_millis"`
	StartedAt      time.Time `json:"started_at"`
}

// ActivitySnapshotRecord is one user's slice of an activity report in the
// user_activity collection: one document per user per report, so reads can
// filter on user_name. ReportID ties the documents of one report together.
type ActivitySnapshotRecord struct {
	ReportID         string          `json:"report_id"`
	UserName         string          `json:"user_name"`
	UserArn          string          `json:"user_arn,omitempty"`
	Window           Window          `json:"window"`
	ActivityCount    int             `json:"activity_count"`
	LastActivityTime time.Time       `json:"last_activity_time,omitempty"`
	Activities       []ActivityEntry `json:"activities"`
	GeneratedAt      time.Time       `json:"generated_at"`
}
