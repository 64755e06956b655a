package types

import (
	"context"
	"time"
)

// EventLookupAPI is the boundary to the audit-log lookup service. One call
// returns one page; pagination is driven by the caller through Cursor.
type EventLookupAPI interface {
	LookupEvents(ctx context.Context, query LookupQuery) (LookupPage, error)
}

type LookupQuery struct {
	StartTime time.Time
	EndTime   time.Time
	Filters   []LookupFilter
	Cursor    string
	PageSize  int32
}

type LookupFilter struct {
	Key   string
	Value string
}

const (
	LookupFilterEventName   = "EventName"
	LookupFilterEventSource = "EventSource"
)

type LookupPage struct {
	Events     []RawEvent
	NextCursor string
}

// RawEvent is the structured summary of one audit event. Payload holds the
// event's raw JSON body; actor and resource detail live there and require
// parsing.
type RawEvent struct {
	ID        string
	Name      string
	Source    string
	Time      time.Time
	Username  string
	Resources []ResourceRef
	Payload   string
}

type ResourceRef struct {
	Name string
	Type string
}
