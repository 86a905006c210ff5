package controlplane

import (
	"context"
	"testing"

	"github.com/agentmesh/awcp/pkg/distributor"
	"github.com/agentmesh/awcp/pkg/resources"
)

func TestRegisterAgentRejectsMissingCapabilities(t *testing.T) {
	s := New(distributor.New(), resources.NewMonitor(), nil, nil)
	err := s.RegisterAgent(RegisterAgentRequest{AgentID: "a1", Capacity: 1})
	if err == nil {
		t.Fatal("expected validation error for missing capabilities")
	}
}

func TestRegisterAgentSucceeds(t *testing.T) {
	s := New(distributor.New(), resources.NewMonitor(), nil, nil)
	err := s.RegisterAgent(RegisterAgentRequest{AgentID: "a1", Capabilities: []string{"summarize"}, Capacity: 2})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
}

func TestSubmitTaskGeneratesIDWhenEmpty(t *testing.T) {
	s := New(distributor.New(), resources.NewMonitor(), nil, nil)
	id, err := s.SubmitTask(SubmitTaskRequest{TaskType: "build", Priority: 1})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated task ID")
	}
}

func TestSubmitTaskRejectsMissingTaskType(t *testing.T) {
	s := New(distributor.New(), resources.NewMonitor(), nil, nil)
	if _, err := s.SubmitTask(SubmitTaskRequest{Priority: 1}); err == nil {
		t.Fatal("expected validation error for missing task type")
	}
}

func TestRegisterResourceRejectsCriticalAboveOne(t *testing.T) {
	s := New(distributor.New(), resources.NewMonitor(), nil, nil)
	err := s.RegisterResource(RegisterResourceRequest{ResourceID: "r1", Capacity: 10, Warning: 0.5, Critical: 1.5})
	if err == nil {
		t.Fatal("expected validation error for critical > 1")
	}
}

func TestRegisterResourceSucceeds(t *testing.T) {
	s := New(distributor.New(), resources.NewMonitor(), nil, nil)
	err := s.RegisterResource(RegisterResourceRequest{ResourceID: "r1", Capacity: 10, Warning: 0.5, Critical: 0.9})
	if err != nil {
		t.Fatalf("RegisterResource: %v", err)
	}
}

type stubWorkflowEngine struct {
	lastInput map[string]interface{}
}

func (s *stubWorkflowEngine) StartExecution(ctx context.Context, workflow string, input map[string]interface{}, clientID string) (string, error) {
	s.lastInput = input
	return "exec-1", nil
}

func TestStartWorkflowStampsRequestID(t *testing.T) {
	engine := &stubWorkflowEngine{}
	d := distributor.New(distributor.WithWorkflowEngine(engine))
	s := New(d, resources.NewMonitor(), nil, nil)

	execID, err := s.StartWorkflow(context.Background(), "some-workflow", nil, "client-1")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if execID != "exec-1" {
		t.Errorf("execID = %q, want exec-1", execID)
	}
	if _, ok := engine.lastInput["request_id"]; !ok {
		t.Error("expected request_id to be stamped onto workflow input")
	}
}
