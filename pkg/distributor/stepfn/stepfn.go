// Package stepfn backs pkg/distributor.WorkflowEngine with AWS Step
// Functions, creating a state machine on demand for inline definitions or
// reusing one addressed by ARN.
package stepfn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/resilience"
)

// API is the subset of the AWS Step Functions client used here, narrowed
// for testing.
type API interface {
	CreateStateMachine(ctx context.Context, input *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	StartExecution(ctx context.Context, input *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// Engine implements distributor.WorkflowEngine over a real or fake Step
// Functions API, guarding every call with a circuit breaker.
type Engine struct {
	client  API
	roleARN string
	cb      *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// New loads the default AWS config for region and wraps a Step Functions
// client. roleARN is used when workflow definitions need a new state
// machine created on the fly.
func New(ctx context.Context, region, roleARN string) (*Engine, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newEngine(sfn.NewFromConfig(cfg), roleARN), nil
}

// NewWithAPI wraps an already-constructed Step Functions API, for tests.
func NewWithAPI(client API, roleARN string) *Engine {
	return newEngine(client, roleARN)
}

func newEngine(client API, roleARN string) *Engine {
	return &Engine{
		client:  client,
		roleARN: roleARN,
		cb:      resilience.NewCircuitBreaker("stepfunctions", resilience.CircuitBreakerConfig{}, observability.NewNoopLogger(), observability.NewNoopMetricsClient()),
		limiter: resilience.NewRateLimiter("stepfunctions", resilience.RateLimiterConfig{Limit: 100, Period: resilience.DefaultPeriod}),
	}
}

// StartExecution starts workflow, treating it as a state machine ARN when
// it has that form and otherwise as an inline Amazon States Language
// definition to stand up a new state machine for. clientID, if non-empty,
// is folded into input and into the generated state machine's name and
// tags.
func (e *Engine) StartExecution(ctx context.Context, workflow string, input map[string]interface{}, clientID string) (string, error) {
	if !e.limiter.Allow() {
		return "", awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for step functions")
	}

	stateMachineARN := workflow
	if !strings.HasPrefix(workflow, "arn:") {
		name := fmt.Sprintf("AgentWorkflow-%d", time.Now().Unix())
		if clientID != "" {
			name = clientID + "-" + name
		}

		createInput := &sfn.CreateStateMachineInput{
			Name:       aws.String(name),
			Definition: aws.String(workflow),
			RoleArn:    aws.String(e.roleARN),
			Type:       types.StateMachineTypeStandard,
		}
		if clientID != "" {
			createInput.Tags = []types.Tag{{Key: aws.String("ClientId"), Value: aws.String(clientID)}}
		}

		result, err := e.cb.Execute(ctx, func() (interface{}, error) {
			return e.client.CreateStateMachine(ctx, createInput)
		})
		if err != nil {
			return "", awcperrors.Wrap(err, awcperrors.Unavailable, "create state machine for workflow")
		}
		stateMachineARN = aws.ToString(result.(*sfn.CreateStateMachineOutput).StateMachineArn)
	}

	if input == nil {
		input = make(map[string]interface{})
	}
	if clientID != "" {
		input["client_id"] = clientID
	}
	body, err := json.Marshal(input)
	if err != nil {
		return "", awcperrors.Wrap(err, awcperrors.InvalidArgument, "marshal workflow input")
	}

	result, err := e.cb.Execute(ctx, func() (interface{}, error) {
		return e.client.StartExecution(ctx, &sfn.StartExecutionInput{
			StateMachineArn: aws.String(stateMachineARN),
			Input:           aws.String(string(body)),
		})
	})
	if err != nil {
		return "", awcperrors.Wrap(err, awcperrors.Unavailable, "start step functions execution")
	}
	return aws.ToString(result.(*sfn.StartExecutionOutput).ExecutionArn), nil
}
