package stepfn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

type mockAPI struct {
	createFunc func(ctx context.Context, input *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	startFunc  func(ctx context.Context, input *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

func (m *mockAPI) CreateStateMachine(ctx context.Context, input *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error) {
	return m.createFunc(ctx, input, optFns...)
}
func (m *mockAPI) StartExecution(ctx context.Context, input *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	return m.startFunc(ctx, input, optFns...)
}

func TestStartExecutionReusesExistingARN(t *testing.T) {
	createCalled := false
	mock := &mockAPI{
		createFunc: func(ctx context.Context, input *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error) {
			createCalled = true
			return &sfn.CreateStateMachineOutput{}, nil
		},
		startFunc: func(ctx context.Context, input *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
			if aws.ToString(input.StateMachineArn) != "arn:aws:states:x:1:stateMachine:y" {
				t.Errorf("StateMachineArn = %s", aws.ToString(input.StateMachineArn))
			}
			return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:exec-1")}, nil
		},
	}

	engine := NewWithAPI(mock, "arn:aws:iam::1:role/x")
	execARN, err := engine.StartExecution(context.Background(), "arn:aws:states:x:1:stateMachine:y", nil, "")
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if execARN != "arn:exec-1" {
		t.Errorf("execARN = %s", execARN)
	}
	if createCalled {
		t.Error("expected CreateStateMachine not to be called for an existing ARN")
	}
}

func TestStartExecutionCreatesStateMachineForInlineDefinition(t *testing.T) {
	mock := &mockAPI{
		createFunc: func(ctx context.Context, input *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error) {
			if !strings.HasPrefix(aws.ToString(input.Name), "tenantA-AgentWorkflow-") {
				t.Errorf("unexpected name: %s", aws.ToString(input.Name))
			}
			if len(input.Tags) != 1 || aws.ToString(input.Tags[0].Value) != "tenantA" {
				t.Errorf("expected ClientId tag, got %+v", input.Tags)
			}
			return &sfn.CreateStateMachineOutput{StateMachineArn: aws.String("arn:new-machine")}, nil
		},
		startFunc: func(ctx context.Context, input *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
			if aws.ToString(input.StateMachineArn) != "arn:new-machine" {
				t.Errorf("StateMachineArn = %s", aws.ToString(input.StateMachineArn))
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(aws.ToString(input.Input)), &decoded); err != nil {
				t.Fatalf("Input not valid JSON: %v", err)
			}
			if decoded["client_id"] != "tenantA" {
				t.Errorf("expected client_id folded into input, got %+v", decoded)
			}
			return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:exec-2")}, nil
		},
	}

	engine := NewWithAPI(mock, "arn:aws:iam::1:role/x")
	execARN, err := engine.StartExecution(context.Background(), `{"StartAt":"Step1"}`, map[string]interface{}{"k": "v"}, "tenantA")
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if execARN != "arn:exec-2" {
		t.Errorf("execARN = %s", execARN)
	}
}

func TestStartExecutionPropagatesCreateError(t *testing.T) {
	mock := &mockAPI{createFunc: func(ctx context.Context, input *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error) {
		return nil, errors.New("boom")
	}}
	engine := NewWithAPI(mock, "arn:aws:iam::1:role/x")
	if _, err := engine.StartExecution(context.Background(), `{"StartAt":"Step1"}`, nil, ""); err == nil {
		t.Error("expected create error to propagate")
	}
}
