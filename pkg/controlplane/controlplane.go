// Package controlplane wires the distributor, resource monitor, quality
// controller, and fabric into one boundary a caller (cmd/controlplane, or a
// transport adapter it owns) can validate requests against before they
// reach the core components.
package controlplane

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agentmesh/awcp/pkg/distributor"
	"github.com/agentmesh/awcp/pkg/fabric"
	"github.com/agentmesh/awcp/pkg/quality"
	"github.com/agentmesh/awcp/pkg/resources"
)

// RegisterAgentRequest is the ingress-validated form of Distributor.RegisterAgent.
type RegisterAgentRequest struct {
	AgentID      string   `validate:"required"`
	Capabilities []string `validate:"required,min=1,dive,required"`
	Capacity     int      `validate:"required,gt=0"`
	ClientID     string
}

// SubmitTaskRequest is the ingress-validated form of Distributor.SubmitTask.
// TaskID is optional: when empty, a UUID is generated.
type SubmitTaskRequest struct {
	TaskID       string
	TaskType     string `validate:"required"`
	Requirements []string
	Priority     int `validate:"gte=0"`
	ClientID     string
}

// RegisterResourceRequest is the ingress-validated form of
// Monitor.RegisterResource.
type RegisterResourceRequest struct {
	ResourceID string  `validate:"required"`
	Capacity   float64 `validate:"required,gt=0"`
	Warning    float64 `validate:"required,gt=0,lte=1"`
	Critical   float64 `validate:"required,gt=0,lte=1"`
	ClientID   string
}

// Server is the wired control plane: every mutating call passes through
// struct-tag validation before it reaches the core component it addresses.
type Server struct {
	Distributor *distributor.Distributor
	Resources   *resources.Monitor
	Quality     *quality.Controller
	Fabric      *fabric.Fabric

	validate *validator.Validate
}

// New wires an already-constructed set of core components into a Server.
// Any of them may be nil if the corresponding surface is not in use.
func New(d *distributor.Distributor, r *resources.Monitor, q *quality.Controller, f *fabric.Fabric) *Server {
	return &Server{
		Distributor: d,
		Resources:   r,
		Quality:     q,
		Fabric:      f,
		validate:    validator.New(),
	}
}

// RegisterAgent validates req and registers the agent with the distributor.
func (s *Server) RegisterAgent(req RegisterAgentRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("validate RegisterAgent request: %w", err)
	}
	return s.Distributor.RegisterAgent(req.AgentID, req.Capabilities, req.Capacity, req.ClientID)
}

// SubmitTask validates req, assigning it a generated TaskID when empty, and
// submits it to the distributor. It returns the task ID actually used.
func (s *Server) SubmitTask(req SubmitTaskRequest) (string, error) {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("validate SubmitTask request: %w", err)
	}
	if err := s.Distributor.SubmitTask(req.TaskID, req.TaskType, req.Requirements, req.Priority, req.ClientID); err != nil {
		return "", err
	}
	return req.TaskID, nil
}

// RegisterResource validates req and registers the resource with the
// monitor.
func (s *Server) RegisterResource(req RegisterResourceRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("validate RegisterResource request: %w", err)
	}
	return s.Resources.RegisterResource(req.ResourceID, req.Capacity, req.Warning, req.Critical, req.ClientID)
}

// CompleteTask marks taskID's terminal outcome and releases its agent's
// capacity.
func (s *Server) CompleteTask(taskID string, outcome distributor.TaskOutcome) error {
	return s.Distributor.CompleteTask(taskID, outcome)
}

// StartWorkflow stamps a fresh correlation ID onto input (for tracing the
// request across the durable workflow boundary) and delegates to the
// distributor's configured WorkflowEngine.
func (s *Server) StartWorkflow(ctx context.Context, workflow string, input map[string]interface{}, clientID string) (string, error) {
	if input == nil {
		input = make(map[string]interface{})
	}
	input["request_id"] = uuid.NewString()
	return s.Distributor.StartWorkflow(ctx, workflow, input, clientID)
}
