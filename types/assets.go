package types

import (
	"time"
)

// Asset categories the portal synchronizes. Category names double as cache
// names in the registry.
const (
	CategoryMetadata        = "metadata"
	CategoryPermissions     = "permissions"
	CategoryTags            = "tags"
	CategoryDescribedAssets = "describedAssets"
)

const (
	AssetTypeDashboard  = "dashboard"
	AssetTypeAnalysis   = "analysis"
	AssetTypeDataset    = "dataset"
	AssetTypeDataSource = "datasource"
	AssetTypeFolder     = "folder"
)

type AssetMetadata struct {
	ID          string    `json:"id"`
	Arn         string    `json:"arn"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

type Permission struct {
	Principal string   `json:"principal"`
	Actions   []string `json:"actions"`
}

type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AssetDetail is the full describe-call result for one asset, including the
// pieces the summary listing omits.
type AssetDetail struct {
	AssetMetadata
	Description string            `json:"description,omitempty"`
	Owner       string            `json:"owner,omitempty"`
	SourceArns  []string          `json:"source_arns,omitempty"`
	Sheets      []SheetSummary    `json:"sheets,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type SheetSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
