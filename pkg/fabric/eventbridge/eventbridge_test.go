package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/agentmesh/awcp/pkg/fabric"
)

type mockAPI struct {
	putEventsFunc func(ctx context.Context, input *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
	putRuleFunc   func(ctx context.Context, input *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	putTargetFunc func(ctx context.Context, input *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
}

func (m *mockAPI) PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	return m.putEventsFunc(ctx, input, optFns...)
}
func (m *mockAPI) PutRule(ctx context.Context, input *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	return m.putRuleFunc(ctx, input, optFns...)
}
func (m *mockAPI) PutTargets(ctx context.Context, input *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	return m.putTargetFunc(ctx, input, optFns...)
}

func TestPutEventReturnsEventID(t *testing.T) {
	mock := &mockAPI{putEventsFunc: func(ctx context.Context, input *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
		if len(input.Entries) != 1 || aws.ToString(input.Entries[0].Source) != "awcp.agent" {
			t.Errorf("unexpected entries: %+v", input.Entries)
		}
		return &eventbridge.PutEventsOutput{
			FailedEntryCount: aws.Int32(0),
			Entries:          []types.PutEventsResultEntry{{EventId: aws.String("evt-1")}},
		}, nil
	}}

	transport := NewWithAPI(mock)
	id, err := transport.PutEvent(context.Background(), "bus", "awcp.agent", "Agent.alert", `{"k":"v"}`)
	if err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	if id != "evt-1" {
		t.Errorf("id = %s, want evt-1", id)
	}
}

func TestPutEventReportsFailedEntry(t *testing.T) {
	mock := &mockAPI{putEventsFunc: func(ctx context.Context, input *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
		return &eventbridge.PutEventsOutput{
			FailedEntryCount: aws.Int32(1),
			Entries:          []types.PutEventsResultEntry{{ErrorMessage: aws.String("throttled")}},
		}, nil
	}}

	transport := NewWithAPI(mock)
	if _, err := transport.PutEvent(context.Background(), "bus", "awcp.agent", "Agent.alert", "{}"); err == nil {
		t.Error("expected failed entry to surface as an error")
	}
}

func TestPutEventPropagatesTransportError(t *testing.T) {
	mock := &mockAPI{putEventsFunc: func(ctx context.Context, input *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
		return nil, errors.New("boom")
	}}

	transport := NewWithAPI(mock)
	if _, err := transport.PutEvent(context.Background(), "bus", "awcp.agent", "Agent.alert", "{}"); err == nil {
		t.Error("expected transport error to propagate")
	}
}

func TestPutRuleMarshalsPattern(t *testing.T) {
	mock := &mockAPI{putRuleFunc: func(ctx context.Context, input *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(aws.ToString(input.EventPattern)), &decoded); err != nil {
			t.Fatalf("EventPattern not valid JSON: %v", err)
		}
		if decoded["source"] == nil || decoded["detail-type"] == nil {
			t.Errorf("pattern missing source/detail-type: %+v", decoded)
		}
		return &eventbridge.PutRuleOutput{}, nil
	}}

	transport := NewWithAPI(mock)
	pattern := &fabric.EventPattern{Source: []string{"awcp.agent"}, DetailType: []string{"Agent.alert"}}
	if err := transport.PutRule(context.Background(), "bus", "rule-1", pattern, ""); err != nil {
		t.Fatalf("PutRule: %v", err)
	}
}

func TestPutTargetSetsInputPath(t *testing.T) {
	mock := &mockAPI{putTargetFunc: func(ctx context.Context, input *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
		if len(input.Targets) != 1 || aws.ToString(input.Targets[0].InputPath) != "$.detail" {
			t.Errorf("unexpected targets: %+v", input.Targets)
		}
		return &eventbridge.PutTargetsOutput{}, nil
	}}

	transport := NewWithAPI(mock)
	if err := transport.PutTarget(context.Background(), "bus", "rule-1", "target-1", "arn:aws:lambda:x", "$.detail"); err != nil {
		t.Fatalf("PutTarget: %v", err)
	}
}
