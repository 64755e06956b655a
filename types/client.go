package types

import (
	"context"
	"time"
)

// AssetAPI is the boundary to the portal's BI gateway. The fetchers feed
// the bulk orchestrators one asset at a time.
type AssetAPI interface {
	AssetMetadata(ctx context.Context, assetID string) (AssetMetadata, error)
	AssetPermissions(ctx context.Context, assetID string) ([]Permission, error)
	AssetTags(ctx context.Context, assetID string) ([]Tag, error)
	DescribeAsset(ctx context.Context, assetID string) (AssetDetail, error)
}

// CallOptions tune one gateway call.
type CallOptions struct {
	Headers map[string]string
	Timeout time.Duration
}
