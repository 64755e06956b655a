package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
)

// Engine rolls audit-log events up into per-user activity records. One
// sequential paginated query runs per tracked event name; a page that
// fails after retries fails the whole run and the partial state is
// discarded.
type Engine struct {
	lookup  types.EventLookupAPI
	limiter types.RateLimiter
	retry   types.RetryPolicy
	logger  types.Logger
	metrics types.MetricsManager
	config  types.ActivityConfig
}

func NewEngine(
	lookup types.EventLookupAPI,
	limiter types.RateLimiter,
	retryPolicy types.RetryPolicy,
	config *types.ActivityConfig,
	logger types.Logger,
	metrics types.MetricsManager,
) *Engine {
	e := &Engine{
		lookup:  lookup,
		limiter: limiter,
		retry:   retryPolicy,
		logger:  logger,
		metrics: metrics,
		config: types.ActivityConfig{
			PageSize:             50,
			MaxPagesPerQuery:     20,
			MaxEventsPerType:     1000,
			MaxActivitiesPerUser: 100,
			EventSource:          "quicksight.amazonaws.com",
			EventNames:           []string{"GetDashboard", "GetAnalysis", "QueryDatabase"},
			DefaultWindow:        24 * time.Hour,
		},
	}

	if config != nil {
		if config.PageSize > 0 {
			e.config.PageSize = config.PageSize
		}
		if config.MaxPagesPerQuery > 0 {
			e.config.MaxPagesPerQuery = config.MaxPagesPerQuery
		}
		if config.MaxEventsPerType > 0 {
			e.config.MaxEventsPerType = config.MaxEventsPerType
		}
		if config.MaxActivitiesPerUser > 0 {
			e.config.MaxActivitiesPerUser = config.MaxActivitiesPerUser
		}
		if config.EventSource != "" {
			e.config.EventSource = config.EventSource
		}
		if len(config.EventNames) > 0 {
			e.config.EventNames = config.EventNames
		}
		if config.DefaultWindow > 0 {
			e.config.DefaultWindow = config.DefaultWindow
		}
	}

	return e
}

// Aggregate scans the window and folds every tracked event type into one
// report. Any page failure propagates and the report is dropped; caps only
// truncate, marking the report so totals read as lower bounds.
func (e *Engine) Aggregate(ctx context.Context, window types.Window) (*types.ActivityReport, error) {
	if e.lookup == nil {
		return nil, types.ErrLookupNotConfigured
	}

	if window.IsZero() {
		end := time.Now()
		window = types.Window{Start: end.Add(-e.config.DefaultWindow), End: end}
	}
	if !window.Start.Before(window.End) {
		return nil, types.Errorf(types.ErrActivityWindowEmpty,
			"start %s, end %s", window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	}

	start := time.Now()
	report := &types.ActivityReport{
		Window: window,
		Users:  make(map[string]*types.UserActivityRecord),
	}

	for _, eventName := range e.config.EventNames {
		if err := e.scanEventType(ctx, eventName, window, report); err != nil {
			return nil, err
		}
	}

	report.DurationMillis = time.Since(start).Milliseconds()
	report.GeneratedAt = time.Now()

	e.logger.Info("Activity aggregation finished",
		zap.Int("users", len(report.Users)),
		zap.Int("events_scanned", report.EventsScanned),
		zap.Int("events_discarded", report.EventsDiscarded),
		zap.Int("pages_fetched", report.PagesFetched),
		zap.Bool("truncated", report.Truncated),
		zap.Int64("duration_ms", report.DurationMillis),
	)

	if e.metrics != nil {
		e.metrics.Counter("activity_runs_total", nil).Inc()
		e.metrics.Histogram("activity_run_duration_seconds",
			[]float64{0.1, 0.5, 1, 5, 15, 60, 300}, nil).ObserveDuration(start)
	}

	return report, nil
}

// scanEventType walks one event type's pages sequentially: one page in
// flight, cursor from the previous response, every page attempt paying a
// limiter token inside the retry.
func (e *Engine) scanEventType(ctx context.Context, eventName string, window types.Window, report *types.ActivityReport) error {
	log := e.logger.With(zap.String("event_name", eventName))

	cursor := ""
	pages := 0
	scanned := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		query := types.LookupQuery{
			StartTime: window.Start,
			EndTime:   window.End,
			Cursor:    cursor,
			PageSize:  e.config.PageSize,
			Filters: []types.LookupFilter{
				{Key: types.LookupFilterEventName, Value: eventName},
			},
		}
		if e.config.EventSource != "" {
			query.Filters = append(query.Filters,
				types.LookupFilter{Key: types.LookupFilterEventSource, Value: e.config.EventSource})
		}

		var page types.LookupPage
		err := e.retry.Run(ctx, "lookup "+eventName, func(ctx context.Context) error {
			if err := e.limiter.Acquire(ctx); err != nil {
				return err
			}
			fetched, err := e.lookup.LookupEvents(ctx, query)
			if err != nil {
				return err
			}
			page = fetched
			return nil
		})
		if err != nil {
			return types.NewErrorf("%w: %s: %w", types.ErrLookupPageFailed, eventName, err)
		}

		pages++
		report.PagesFetched++
		if e.metrics != nil {
			e.metrics.Counter("activity_pages_total", map[string]string{"event_name": eventName}).Inc()
		}

		for _, event := range page.Events {
			if scanned >= e.config.MaxEventsPerType {
				report.Truncated = true
				log.Warn("Event cap reached, truncating query",
					zap.Int("max_events", e.config.MaxEventsPerType),
					zap.Int("pages", pages),
				)
				return nil
			}
			scanned++
			report.EventsScanned++
			e.foldEvent(event, report, log)
		}

		if page.NextCursor == "" {
			return nil
		}
		if pages >= e.config.MaxPagesPerQuery {
			report.Truncated = true
			log.Warn("Page cap reached, truncating query",
				zap.Int("max_pages", e.config.MaxPagesPerQuery),
				zap.Int("events", scanned),
			)
			return nil
		}
		cursor = page.NextCursor
	}
}

// foldEvent merges one event into the report. Extraction failures skip the
// event and never abort the page.
func (e *Engine) foldEvent(event types.RawEvent, report *types.ActivityReport, log types.Logger) {
	payload, err := parsePayload(event.Payload)
	if err != nil {
		report.EventsDiscarded++
		e.countDiscard("parse")
		log.Debug("Skipping event with unreadable payload",
			zap.String("event_id", event.ID),
			zap.String("username", event.Username),
			zap.Error(err),
		)
		return
	}

	userName, ok := extractUserName(payload.UserIdentity)
	if !ok {
		report.EventsDiscarded++
		e.countDiscard("identity")
		log.Debug("Skipping event without a resolvable user",
			zap.String("event_id", event.ID),
			zap.String("username", event.Username),
		)
		return
	}

	record, exists := report.Users[userName]
	if !exists {
		record = &types.UserActivityRecord{UserName: userName}
		report.Users[userName] = record
	}
	if record.UserArn == "" && payload.UserIdentity.Arn != "" {
		record.UserArn = payload.UserIdentity.Arn
	}

	record.ActivityCount++
	if event.Time.After(record.LastActivityTime) {
		record.LastActivityTime = event.Time
	}

	entry := types.ActivityEntry{
		EventName:    event.Name,
		EventTime:    event.Time,
		ResourceName: extractResourceName(event.Resources, payload),
	}
	if len(record.Activities) >= e.config.MaxActivitiesPerUser {
		record.Activities = append(record.Activities[1:], entry)
	} else {
		record.Activities = append(record.Activities, entry)
	}
}

func (e *Engine) countDiscard(reason string) {
	if e.metrics != nil {
		e.metrics.Counter("activity_events_discarded_total", map[string]string{"reason": reason}).Inc()
	}
}
