package lookup

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cloudtrailtypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/quartzbi/metasync/types"
)

// cloudTrailAPI is the slice of the SDK client the adapter uses.
type cloudTrailAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// CloudTrailLookup adapts CloudTrail LookupEvents to the engine's
// boundary. SDK retries are disabled: the retry policy owns retrying, so
// rate-limiter accounting sees every attempt.
type CloudTrailLookup struct {
	client cloudTrailAPI
}

var _ types.EventLookupAPI = (*CloudTrailLookup)(nil)

func NewCloudTrailLookup(ctx context.Context, config *types.LookupConfig) (*CloudTrailLookup, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(1),
	}
	if config != nil && config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, types.WrapError(err, "failed to load aws config")
	}

	var clientOpts []func(*cloudtrail.Options)
	if config != nil && config.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *cloudtrail.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return &CloudTrailLookup{client: cloudtrail.NewFromConfig(awsCfg, clientOpts...)}, nil
}

func (c *CloudTrailLookup) LookupEvents(ctx context.Context, query types.LookupQuery) (types.LookupPage, error) {
	input := &cloudtrail.LookupEventsInput{
		StartTime: aws.Time(query.StartTime),
		EndTime:   aws.Time(query.EndTime),
	}
	if query.PageSize > 0 {
		input.MaxResults = aws.Int32(query.PageSize)
	}
	if query.Cursor != "" {
		input.NextToken = aws.String(query.Cursor)
	}

	for _, filter := range query.Filters {
		key, err := lookupAttributeKey(filter.Key)
		if err != nil {
			return types.LookupPage{}, err
		}
		input.LookupAttributes = append(input.LookupAttributes, cloudtrailtypes.LookupAttribute{
			AttributeKey:   key,
			AttributeValue: aws.String(filter.Value),
		})
	}

	out, err := c.client.LookupEvents(ctx, input)
	if err != nil {
		return types.LookupPage{}, err
	}

	page := types.LookupPage{
		Events:     make([]types.RawEvent, 0, len(out.Events)),
		NextCursor: aws.ToString(out.NextToken),
	}
	for _, event := range out.Events {
		page.Events = append(page.Events, mapEvent(event))
	}
	return page, nil
}

func mapEvent(event cloudtrailtypes.Event) types.RawEvent {
	raw := types.RawEvent{
		ID:       aws.ToString(event.EventId),
		Name:     aws.ToString(event.EventName),
		Source:   aws.ToString(event.EventSource),
		Username: aws.ToString(event.Username),
		Payload:  aws.ToString(event.CloudTrailEvent),
	}
	if event.EventTime != nil {
		raw.Time = *event.EventTime
	}
	for _, res := range event.Resources {
		raw.Resources = append(raw.Resources, types.ResourceRef{
			Name: aws.ToString(res.ResourceName),
			Type: aws.ToString(res.ResourceType),
		})
	}
	return raw
}

func lookupAttributeKey(key string) (cloudtrailtypes.LookupAttributeKey, error) {
	switch key {
	case types.LookupFilterEventName:
		return cloudtrailtypes.LookupAttributeKeyEventName, nil
	case types.LookupFilterEventSource:
		return cloudtrailtypes.LookupAttributeKeyEventSource, nil
	default:
		return "", types.Errorf(types.ErrInvalidParameter, "unsupported lookup filter %q", key)
	}
}
