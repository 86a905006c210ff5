// Package autoscaling backs pkg/resources.Autoscaler with the real AWS
// Auto Scaling API.
package autoscaling

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/resilience"
	"github.com/agentmesh/awcp/pkg/resources"
)

// API is the subset of the AWS Auto Scaling client used here, narrowed for
// testing.
type API interface {
	DescribeAutoScalingGroups(ctx context.Context, input *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(ctx context.Context, input *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
}

// Scaler implements resources.Autoscaler over a real or fake Auto Scaling
// API, guarding every call with a circuit breaker.
type Scaler struct {
	client  API
	cb      *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// New loads the default AWS config for region and wraps an Auto Scaling
// client.
func New(ctx context.Context, region string) (*Scaler, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newScaler(autoscaling.NewFromConfig(cfg)), nil
}

// NewWithAPI wraps an already-constructed Auto Scaling API, for tests.
func NewWithAPI(client API) *Scaler {
	return newScaler(client)
}

func newScaler(client API) *Scaler {
	return &Scaler{
		client:  client,
		cb:      resilience.NewCircuitBreaker("autoscaling", resilience.CircuitBreakerConfig{}, observability.NewNoopLogger(), observability.NewNoopMetricsClient()),
		limiter: resilience.NewRateLimiter("autoscaling", resilience.RateLimiterConfig{Limit: 60, Period: resilience.DefaultPeriod}),
	}
}

var _ resources.Autoscaler = (*Scaler)(nil)

// DescribeGroup returns group's current desired/min/max bounds.
func (s *Scaler) DescribeGroup(ctx context.Context, group string) (resources.ScalingGroupState, error) {
	if !s.limiter.Allow() {
		return resources.ScalingGroupState{}, awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for autoscaling")
	}

	result, err := s.cb.Execute(ctx, func() (interface{}, error) {
		return s.client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: []string{group},
		})
	})
	if err != nil {
		return resources.ScalingGroupState{}, err
	}
	out := result.(*autoscaling.DescribeAutoScalingGroupsOutput)
	if len(out.AutoScalingGroups) == 0 {
		return resources.ScalingGroupState{}, awcperrors.New(awcperrors.NotFound, "unknown autoscaling group: "+group)
	}

	g := out.AutoScalingGroups[0]
	return resources.ScalingGroupState{
		DesiredCapacity: int(aws.ToInt32(g.DesiredCapacity)),
		MinSize:         int(aws.ToInt32(g.MinSize)),
		MaxSize:         int(aws.ToInt32(g.MaxSize)),
	}, nil
}

// SetDesiredCapacity requests group scale to desired, without waiting for
// the change to take effect.
func (s *Scaler) SetDesiredCapacity(ctx context.Context, group string, desired int) error {
	if !s.limiter.Allow() {
		return awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for autoscaling")
	}

	_, err := s.cb.Execute(ctx, func() (interface{}, error) {
		return s.client.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
			AutoScalingGroupName: aws.String(group),
			DesiredCapacity:      aws.Int32(int32(desired)),
			HonorCooldown:        aws.Bool(false),
		})
	})
	return err
}
