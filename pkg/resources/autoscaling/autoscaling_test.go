package autoscaling

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
)

type mockAPI struct {
	describeFunc func(ctx context.Context, input *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	setFunc      func(ctx context.Context, input *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
}

func (m *mockAPI) DescribeAutoScalingGroups(ctx context.Context, input *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return m.describeFunc(ctx, input, optFns...)
}
func (m *mockAPI) SetDesiredCapacity(ctx context.Context, input *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error) {
	return m.setFunc(ctx, input, optFns...)
}

func TestDescribeGroupMapsBounds(t *testing.T) {
	mock := &mockAPI{describeFunc: func(ctx context.Context, input *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
		return &autoscaling.DescribeAutoScalingGroupsOutput{
			AutoScalingGroups: []types.AutoScalingGroup{
				{DesiredCapacity: aws.Int32(3), MinSize: aws.Int32(1), MaxSize: aws.Int32(5)},
			},
		}, nil
	}}

	scaler := NewWithAPI(mock)
	state, err := scaler.DescribeGroup(context.Background(), "asg-1")
	if err != nil {
		t.Fatalf("DescribeGroup: %v", err)
	}
	if state.DesiredCapacity != 3 || state.MinSize != 1 || state.MaxSize != 5 {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestDescribeGroupMissingReturnsNotFound(t *testing.T) {
	mock := &mockAPI{describeFunc: func(ctx context.Context, input *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
		return &autoscaling.DescribeAutoScalingGroupsOutput{}, nil
	}}

	scaler := NewWithAPI(mock)
	if _, err := scaler.DescribeGroup(context.Background(), "ghost"); err == nil {
		t.Error("expected not-found error for missing group")
	}
}

func TestSetDesiredCapacityDisablesCooldown(t *testing.T) {
	mock := &mockAPI{setFunc: func(ctx context.Context, input *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error) {
		if aws.ToInt32(input.DesiredCapacity) != 4 {
			t.Errorf("DesiredCapacity = %d", aws.ToInt32(input.DesiredCapacity))
		}
		if aws.ToBool(input.HonorCooldown) {
			t.Error("expected HonorCooldown to be false")
		}
		return &autoscaling.SetDesiredCapacityOutput{}, nil
	}}

	scaler := NewWithAPI(mock)
	if err := scaler.SetDesiredCapacity(context.Background(), "asg-1", 4); err != nil {
		t.Fatalf("SetDesiredCapacity: %v", err)
	}
}

func TestSetDesiredCapacityPropagatesError(t *testing.T) {
	mock := &mockAPI{setFunc: func(ctx context.Context, input *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error) {
		return nil, errors.New("boom")
	}}

	scaler := NewWithAPI(mock)
	if err := scaler.SetDesiredCapacity(context.Background(), "asg-1", 4); err == nil {
		t.Error("expected error to propagate")
	}
}
