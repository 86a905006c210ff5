package cloudwatch

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

type mockAPI struct {
	putFunc func(ctx context.Context, input *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

func (m *mockAPI) PutMetricData(ctx context.Context, input *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	return m.putFunc(ctx, input, optFns...)
}

func TestPutUtilizationScalesToPercent(t *testing.T) {
	mock := &mockAPI{putFunc: func(ctx context.Context, input *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
		if aws.ToString(input.Namespace) != "AWCP/Resources" {
			t.Errorf("Namespace = %s", aws.ToString(input.Namespace))
		}
		if len(input.MetricData) != 1 || aws.ToFloat64(input.MetricData[0].Value) != 87.5 {
			t.Errorf("unexpected metric data: %+v", input.MetricData)
		}
		if len(input.MetricData[0].Dimensions) != 2 {
			t.Errorf("expected ResourceId and ClientId dimensions, got %+v", input.MetricData[0].Dimensions)
		}
		return &cloudwatch.PutMetricDataOutput{}, nil
	}}

	sink := NewWithAPI(mock, "")
	if err := sink.PutUtilization(context.Background(), "db-primary", "tenantA", 0.875); err != nil {
		t.Fatalf("PutUtilization: %v", err)
	}
}

func TestPutUtilizationOmitsClientDimensionWhenEmpty(t *testing.T) {
	mock := &mockAPI{putFunc: func(ctx context.Context, input *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
		if len(input.MetricData[0].Dimensions) != 1 {
			t.Errorf("expected only ResourceId dimension, got %+v", input.MetricData[0].Dimensions)
		}
		return &cloudwatch.PutMetricDataOutput{}, nil
	}}

	sink := NewWithAPI(mock, "Custom/NS")
	if err := sink.PutUtilization(context.Background(), "db-primary", "", 0.5); err != nil {
		t.Fatalf("PutUtilization: %v", err)
	}
}

func TestPutUtilizationPropagatesError(t *testing.T) {
	mock := &mockAPI{putFunc: func(ctx context.Context, input *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
		return nil, errors.New("throttled")
	}}

	sink := NewWithAPI(mock, "")
	if err := sink.PutUtilization(context.Background(), "db-primary", "", 0.5); err == nil {
		t.Error("expected error to propagate")
	}
}
