package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quartzbi/metasync/bulk"
	"github.com/quartzbi/metasync/types"
)

// SyncMetadata resolves the summary metadata for every asset id, serving
// cached entries and bulk-fetching the rest.
func (s *Service) SyncMetadata(ctx context.Context, ids []string) (*bulk.Result[types.AssetMetadata], error) {
	return syncCategory(ctx, s, s.metadata, types.CategoryMetadata, ids, s.assetAPI.AssetMetadata)
}

// SyncPermissions resolves the permission sets for every asset id.
func (s *Service) SyncPermissions(ctx context.Context, ids []string) (*bulk.Result[[]types.Permission], error) {
	return syncCategory(ctx, s, s.permissions, types.CategoryPermissions, ids, s.assetAPI.AssetPermissions)
}

// SyncTags resolves the tag sets for every asset id.
func (s *Service) SyncTags(ctx context.Context, ids []string) (*bulk.Result[[]types.Tag], error) {
	return syncCategory(ctx, s, s.tags, types.CategoryTags, ids, s.assetAPI.AssetTags)
}

// DescribeAssets resolves the full describe-call detail for every asset id.
func (s *Service) DescribeAssets(ctx context.Context, ids []string) (*bulk.Result[types.AssetDetail], error) {
	return syncCategory(ctx, s, s.described, types.CategoryDescribedAssets, ids, s.assetAPI.DescribeAsset)
}

// UserActivity aggregates audit events over the window into a per-user
// report. When the snapshot store is up the report is persisted as well,
// one document per user.
func (s *Service) UserActivity(ctx context.Context, window types.Window) (*types.ActivityReport, error) {
	if !s.IsRunning() {
		return nil, types.ErrServiceIsNotRunning
	}

	report, err := s.engine.Aggregate(ctx, window)
	if err != nil {
		return nil, err
	}

	s.persistReport(ctx, report)

	return report, nil
}

func syncCategory[T any](
	ctx context.Context,
	s *Service,
	orchestrator *bulk.Orchestrator[T],
	category string,
	ids []string,
	fetchOne func(ctx context.Context, assetID string) (T, error),
) (*bulk.Result[T], error) {
	if !s.IsRunning() {
		return nil, types.ErrServiceIsNotRunning
	}

	startedAt := time.Now().UTC()

	result, err := orchestrator.Fetch(ctx, bulk.Request[T]{
		IDs:         ids,
		FetchOne:    fetchOne,
		CachePrefix: category,
	})
	if err != nil {
		return nil, err
	}

	recordSyncRun(ctx, s, category, startedAt, result)

	return result, nil
}

// recordSyncRun writes the run summary to the sync_runs collection. The
// summary is best effort: a store failure is logged and the sync result
// still stands.
func recordSyncRun[T any](ctx context.Context, s *Service, category string, startedAt time.Time, result *bulk.Result[T]) {
	if s.store == nil || !s.store.IsRunning() {
		return
	}

	record := types.SyncRunRecord{
		RunID:          uuid.NewString(),
		Category:       category,
		RequestedCount: len(result.Data),
		CachedCount:    result.CachedCount,
		FetchedCount:   result.FetchedCount,
		ErrorCount:     result.ErrorCount,
		DurationMillis: result.DurationMillis,
		StartedAt:      startedAt,
	}

	if _, err := s.store.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: types.CollectionSyncRuns,
		Data:       []interface{}{record},
	}); err != nil {
		s.logger.Error("Failed to record sync run",
			zap.String("category", category),
			zap.Error(err))
	}
}

// persistReport fans the report out into the user_activity collection, one
// document per user, so reads can filter on user_name. A report with no
// users leaves no documents.
func (s *Service) persistReport(ctx context.Context, report *types.ActivityReport) {
	if s.store == nil || !s.store.IsRunning() || len(report.Users) == 0 {
		return
	}

	reportID := uuid.NewString()
	docs := make([]interface{}, 0, len(report.Users))
	for _, user := range report.Users {
		docs = append(docs, types.ActivitySnapshotRecord{
			ReportID:         reportID,
			UserName:         user.UserName,
			UserArn:          user.UserArn,
			Window:           report.Window,
			ActivityCount:    user.ActivityCount,
			LastActivityTime: user.LastActivityTime,
			Activities:       user.Activities,
			GeneratedAt:      report.GeneratedAt,
		})
	}

	if _, err := s.store.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: types.CollectionUserActivity,
		Data:       docs,
	}); err != nil {
		s.logger.Error("Failed to persist activity report",
			zap.String("report_id", reportID),
			zap.Error(err))
	}
}
