package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cloudtrailtypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzbi/metasync/types"
)

type fakeCloudTrail struct {
	input  *cloudtrail.LookupEventsInput
	output *cloudtrail.LookupEventsOutput
	err    error
}

func (f *fakeCloudTrail) LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func TestLookupEventsBuildsInput(t *testing.T) {
	fake := &fakeCloudTrail{output: &cloudtrail.LookupEventsOutput{}}
	lk := &CloudTrailLookup{client: fake}

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	_, err := lk.LookupEvents(context.Background(), types.LookupQuery{
		StartTime: start,
		EndTime:   end,
		Cursor:    "next-page",
		PageSize:  50,
		Filters: []types.LookupFilter{
			{Key: types.LookupFilterEventName, Value: "GetDashboard"},
			{Key: types.LookupFilterEventSource, Value: "quicksight.amazonaws.com"},
		},
	})
	require.NoError(t, err)

	input := fake.input
	require.NotNil(t, input)
	assert.Equal(t, start, aws.ToTime(input.StartTime))
	assert.Equal(t, end, aws.ToTime(input.EndTime))
	assert.Equal(t, int32(50), aws.ToInt32(input.MaxResults))
	assert.Equal(t, "next-page", aws.ToString(input.NextToken))

	require.Len(t, input.LookupAttributes, 2)
	assert.Equal(t, cloudtrailtypes.LookupAttributeKeyEventName, input.LookupAttributes[0].AttributeKey)
	assert.Equal(t, "GetDashboard", aws.ToString(input.LookupAttributes[0].AttributeValue))
	assert.Equal(t, cloudtrailtypes.LookupAttributeKeyEventSource, input.LookupAttributes[1].AttributeKey)
}

func TestLookupEventsOmitsEmptyCursor(t *testing.T) {
	fake := &fakeCloudTrail{output: &cloudtrail.LookupEventsOutput{}}
	lk := &CloudTrailLookup{client: fake}

	_, err := lk.LookupEvents(context.Background(), types.LookupQuery{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, fake.input.NextToken)
	assert.Nil(t, fake.input.MaxResults)
}

func TestLookupEventsMapsOutput(t *testing.T) {
	eventTime := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	fake := &fakeCloudTrail{output: &cloudtrail.LookupEventsOutput{
		NextToken: aws.String("token-2"),
		Events: []cloudtrailtypes.Event{
			{
				EventId:         aws.String("evt-1"),
				EventName:       aws.String("GetDashboard"),
				EventSource:     aws.String("quicksight.amazonaws.com"),
				EventTime:       aws.Time(eventTime),
				Username:        aws.String("jane"),
				CloudTrailEvent: aws.String(`{"userIdentity":{"userName":"jane"}}`),
				Resources: []cloudtrailtypes.Resource{
					{ResourceName: aws.String("arn:aws:quicksight:us-east-1:123456789012:dashboard/sales"), ResourceType: aws.String("AWS::QuickSight::Dashboard")},
				},
			},
			{
				// Sparse event: every optional field nil.
				EventId: aws.String("evt-2"),
			},
		},
	}}
	lk := &CloudTrailLookup{client: fake}

	page, err := lk.LookupEvents(context.Background(), types.LookupQuery{
		StartTime: eventTime.Add(-time.Hour),
		EndTime:   eventTime.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "token-2", page.NextCursor)
	require.Len(t, page.Events, 2)

	first := page.Events[0]
	assert.Equal(t, "evt-1", first.ID)
	assert.Equal(t, "GetDashboard", first.Name)
	assert.Equal(t, "quicksight.amazonaws.com", first.Source)
	assert.Equal(t, eventTime, first.Time)
	assert.Equal(t, "jane", first.Username)
	assert.Contains(t, first.Payload, "userIdentity")
	require.Len(t, first.Resources, 1)
	assert.Equal(t, "AWS::QuickSight::Dashboard", first.Resources[0].Type)

	second := page.Events[1]
	assert.Equal(t, "evt-2", second.ID)
	assert.Empty(t, second.Name)
	assert.True(t, second.Time.IsZero())
	assert.Empty(t, second.Resources)
}

func TestLookupEventsLastPageHasNoCursor(t *testing.T) {
	fake := &fakeCloudTrail{output: &cloudtrail.LookupEventsOutput{}}
	lk := &CloudTrailLookup{client: fake}

	page, err := lk.LookupEvents(context.Background(), types.LookupQuery{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now(),
	})
	require.NoError(t, err)
	assert.Empty(t, page.NextCursor)
}

func TestLookupEventsRejectsUnknownFilter(t *testing.T) {
	fake := &fakeCloudTrail{output: &cloudtrail.LookupEventsOutput{}}
	lk := &CloudTrailLookup{client: fake}

	_, err := lk.LookupEvents(context.Background(), types.LookupQuery{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now(),
		Filters:   []types.LookupFilter{{Key: "ReadOnly", Value: "true"}},
	})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestLookupEventsPropagatesAPIError(t *testing.T) {
	apiErr := errors.New("throttled")
	fake := &fakeCloudTrail{err: apiErr}
	lk := &CloudTrailLookup{client: fake}

	_, err := lk.LookupEvents(context.Background(), types.LookupQuery{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now(),
	})
	assert.ErrorIs(t, err, apiErr)
}
