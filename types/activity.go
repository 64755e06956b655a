package types

import (
	"time"
)

type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// UserActivityRecord accumulates one user's events over a single
// aggregation run. ActivityCount is exact; Activities keeps only the most
// recent entries up to the configured bound.
type UserActivityRecord struct {
	UserArn          string          `json:"user_arn,omitempty"`
	UserName         string          `json:"user_name"`
	LastActivityTime time.Time       `json:"last_activity_time,omitempty"`
	ActivityCount    int             `json:"activity_count"`
	Activities       []ActivityEntry `json:"activities"`
}

type ActivityEntry struct {
	EventName    string    `json:"event_name"`
	EventTime    time.Time `json:"event_time"`
	ResourceName string    `json:"resource_name,omitempty"`
}

// ActivityReport is the result of one aggregation run. When Truncated is
// set a page or event cap cut the scan short and every total is a lower
// bound, not an exact count.
type ActivityReport struct {
	Window          Window                         `json:"window"`
	Users           map[string]*UserActivityRecord `json:"users"`
	EventsScanned   int                            `json:"events_scanned"`
	EventsDiscarded int                            `json:"events_discarded"`
	PagesFetched    int                            `json:"pages_fetched"`
	Truncated       bool                           `json:"truncated"`
	DurationMillis  int64                          `json:"duration_millis"`
	GeneratedAt     time.Time                      `json:"generated_at"`
}
