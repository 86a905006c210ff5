// Package eventbridge backs pkg/fabric.EventBusTransport with the real AWS
// EventBridge API.
package eventbridge

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/fabric"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/resilience"
)

// API is the subset of the AWS EventBridge client used here, narrowed for
// testing.
type API interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
	PutRule(ctx context.Context, input *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, input *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
}

// Transport implements fabric.EventBusTransport over a real or fake
// EventBridge API, guarding every call with a circuit breaker.
type Transport struct {
	client  API
	cb      *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// New loads the default AWS config for the given region and wraps an
// EventBridge client.
func New(ctx context.Context, region string) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newTransport(eventbridge.NewFromConfig(cfg)), nil
}

// NewWithAPI wraps an already-constructed EventBridge API, for tests.
func NewWithAPI(client API) *Transport {
	return newTransport(client)
}

func newTransport(client API) *Transport {
	return &Transport{
		client:  client,
		cb:      resilience.NewCircuitBreaker("eventbridge", resilience.CircuitBreakerConfig{}, observability.NewNoopLogger(), observability.NewNoopMetricsClient()),
		limiter: resilience.NewRateLimiter("eventbridge", resilience.RateLimiterConfig{Limit: 2400, Period: resilience.DefaultPeriod}),
	}
}

var _ fabric.EventBusTransport = (*Transport)(nil)

// PutEvent publishes a single event entry and returns its EventBridge id.
func (t *Transport) PutEvent(ctx context.Context, busName, source, detailType, detail string) (string, error) {
	if !t.limiter.Allow() {
		return "", awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for eventbridge")
	}

	result, err := t.cb.Execute(ctx, func() (interface{}, error) {
		return t.client.PutEvents(ctx, &eventbridge.PutEventsInput{
			Entries: []types.PutEventsRequestEntry{
				{
					EventBusName: aws.String(busName),
					Source:       aws.String(source),
					DetailType:   aws.String(detailType),
					Detail:       aws.String(detail),
				},
			},
		})
	})
	if err != nil {
		return "", err
	}
	out := result.(*eventbridge.PutEventsOutput)
	if aws.ToInt32(out.FailedEntryCount) > 0 && len(out.Entries) > 0 {
		return "", awcperrors.New(awcperrors.Unavailable, "failed to publish event: "+aws.ToString(out.Entries[0].ErrorMessage))
	}
	if len(out.Entries) == 0 {
		return "", nil
	}
	return aws.ToString(out.Entries[0].EventId), nil
}

// PutRule creates or updates a rule matching pattern and/or schedule.
func (t *Transport) PutRule(ctx context.Context, busName, ruleName string, pattern *fabric.EventPattern, schedule string) error {
	input := &eventbridge.PutRuleInput{
		Name:         aws.String(ruleName),
		EventBusName: aws.String(busName),
		State:        types.RuleStateEnabled,
	}
	if pattern != nil {
		body, err := json.Marshal(map[string]interface{}{
			"source":      pattern.Source,
			"detail-type": pattern.DetailType,
		})
		if err != nil {
			return err
		}
		input.EventPattern = aws.String(string(body))
	}
	if schedule != "" {
		input.ScheduleExpression = aws.String(schedule)
	}

	_, err := t.cb.Execute(ctx, func() (interface{}, error) {
		return t.client.PutRule(ctx, input)
	})
	return err
}

// PutTarget attaches a single target to ruleName.
func (t *Transport) PutTarget(ctx context.Context, busName, ruleName, targetID, targetARN, inputPath string) error {
	target := types.Target{
		Id:  aws.String(targetID),
		Arn: aws.String(targetARN),
	}
	if inputPath != "" {
		target.InputPath = aws.String(inputPath)
	}

	_, err := t.cb.Execute(ctx, func() (interface{}, error) {
		return t.client.PutTargets(ctx, &eventbridge.PutTargetsInput{
			Rule:         aws.String(ruleName),
			EventBusName: aws.String(busName),
			Targets:      []types.Target{target},
		})
	})
	return err
}
