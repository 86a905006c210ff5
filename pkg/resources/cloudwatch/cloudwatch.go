// Package cloudwatch backs pkg/resources.MetricSink with the real AWS
// CloudWatch API.
package cloudwatch

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/resilience"
	"github.com/agentmesh/awcp/pkg/resources"
)

const defaultNamespace = "AWCP/Resources"

// API is the subset of the AWS CloudWatch client used here, narrowed for
// testing.
type API interface {
	PutMetricData(ctx context.Context, input *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Sink implements resources.MetricSink over a real or fake CloudWatch API,
// guarding every call with a circuit breaker.
type Sink struct {
	client    API
	namespace string
	cb        *resilience.CircuitBreaker
	limiter   *resilience.RateLimiter
}

// New loads the default AWS config for region and wraps a CloudWatch
// client under namespace (defaulting to "AWCP/Resources" if empty).
func New(ctx context.Context, region, namespace string) (*Sink, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newSink(cloudwatch.NewFromConfig(cfg), namespace), nil
}

// NewWithAPI wraps an already-constructed CloudWatch API, for tests.
func NewWithAPI(client API, namespace string) *Sink {
	return newSink(client, namespace)
}

func newSink(client API, namespace string) *Sink {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Sink{
		client:    client,
		namespace: namespace,
		cb:        resilience.NewCircuitBreaker("cloudwatch", resilience.CircuitBreakerConfig{}, observability.NewNoopLogger(), observability.NewNoopMetricsClient()),
		limiter:   resilience.NewRateLimiter("cloudwatch", resilience.RateLimiterConfig{Limit: 150, Period: resilience.DefaultPeriod}),
	}
}

var _ resources.MetricSink = (*Sink)(nil)

// PutUtilization publishes a resource's utilization as a CloudWatch metric
// datum, dimensioned by resource id and (when present) client id.
func (s *Sink) PutUtilization(ctx context.Context, resourceID, clientID string, utilization float64) error {
	if !s.limiter.Allow() {
		return awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for cloudwatch")
	}

	dimensions := []types.Dimension{
		{Name: aws.String("ResourceId"), Value: aws.String(resourceID)},
	}
	if clientID != "" {
		dimensions = append(dimensions, types.Dimension{Name: aws.String("ClientId"), Value: aws.String(clientID)})
	}

	_, err := s.cb.Execute(ctx, func() (interface{}, error) {
		return s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace: aws.String(s.namespace),
			MetricData: []types.MetricDatum{
				{
					MetricName: aws.String("Utilization"),
					Value:      aws.Float64(utilization * 100),
					Unit:       types.StandardUnitPercent,
					Dimensions: dimensions,
				},
			},
		})
	})
	return err
}
