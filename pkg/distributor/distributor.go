// Package distributor implements capability-matched, ownership-scoped task
// assignment across registered agents, with durable workflow offload and a
// key-value task mirror for cross-process visibility.
package distributor

import (
	"context"
	"sort"
	"sync"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/ownership"
	"github.com/agentmesh/awcp/pkg/quality"
)

// globalQueue is the ownerless task queue. Its tasks are eligible for every
// registered agent, client-scoped agents included.
const globalQueue = "global"

// TaskStatus is the lifecycle state of a submitted task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskAssigned TaskStatus = "assigned"
	TaskComplete TaskStatus = "completed"
	TaskFailed   TaskStatus = "failed"
)

// TaskOutcome discriminates how an assigned task left the system, matching
// the two terminal states a task can transition to from assigned.
type TaskOutcome string

const (
	OutcomeCompleted TaskOutcome = "completed"
	OutcomeFailed    TaskOutcome = "failed"
)

// AgentInfo is the registered state of one agent.
type AgentInfo struct {
	Capabilities []string
	Capacity     int
	CurrentTasks []string
	Utilization  float64
	ClientID     string
}

// TaskInfo is the submitted state of one task.
type TaskInfo struct {
	ID           string
	Type         string
	Requirements []string
	Priority     int
	Status       TaskStatus
	AssignedTo   string
	ClientID     string
}

// WorkflowEngine durably executes a multi-step workflow (a Step-Functions-
// like state machine) on the distributor's behalf.
type WorkflowEngine interface {
	StartExecution(ctx context.Context, workflow string, input map[string]interface{}, clientID string) (string, error)
}

// TaskStore mirrors task state into an external key-value store (a
// DynamoDB-like table) so other processes can read it without going through
// the in-memory distributor.
type TaskStore interface {
	PutTask(ctx context.Context, taskID string, data map[string]interface{}) error
	GetTask(ctx context.Context, taskID string) (map[string]interface{}, bool, error)
	QueryByClient(ctx context.Context, clientID string) ([]map[string]interface{}, error)
}

// AgentNamingService is a component registry the distributor queries to
// resolve an agent's display name, without owning registration or discovery
// itself.
type AgentNamingService interface {
	Register(agentID string, capabilities []string) error
	Resolve(agentID string) (name string, ok bool)
}

// Distributor assigns submitted tasks to registered agents by capability
// match, capacity headroom, and ownership scope, breaking utilization ties
// with quality-weighted routing when available.
type Distributor struct {
	mu sync.Mutex

	agents       map[string]*AgentInfo
	tasks        map[string]*TaskInfo
	clientQueues map[string][]string          // client id ("global" for ownerless) -> task ids, priority-sorted desc
	clientAgents map[string]map[string]bool   // client id -> set of agent ids
	rrOffset     int

	quality        *quality.Controller
	workflowEngine WorkflowEngine
	taskStore      TaskStore
	naming         AgentNamingService

	logger        observability.Logger
	metricsClient observability.MetricsClient
}

// Option configures a Distributor at construction time.
type Option func(*Distributor)

// WithLogger overrides the default no-op logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Distributor) { d.logger = logger }
}

// WithMetricsClient overrides the default no-op metrics client.
func WithMetricsClient(client observability.MetricsClient) Option {
	return func(d *Distributor) { d.metricsClient = client }
}

// WithQualityController installs the quality controller used to break
// utilization ties between equally-loaded eligible agents.
func WithQualityController(controller *quality.Controller) Option {
	return func(d *Distributor) { d.quality = controller }
}

// WithWorkflowEngine installs the durable workflow offload backend.
func WithWorkflowEngine(engine WorkflowEngine) Option {
	return func(d *Distributor) { d.workflowEngine = engine }
}

// WithTaskStore installs the external task mirror.
func WithTaskStore(store TaskStore) Option {
	return func(d *Distributor) { d.taskStore = store }
}

// WithNamingService installs the component registry consulted for agent
// display names.
func WithNamingService(naming AgentNamingService) Option {
	return func(d *Distributor) { d.naming = naming }
}

// New creates a Distributor.
func New(opts ...Option) *Distributor {
	d := &Distributor{
		agents:        make(map[string]*AgentInfo),
		tasks:         make(map[string]*TaskInfo),
		clientQueues:  make(map[string][]string),
		clientAgents:  make(map[string]map[string]bool),
		logger:        observability.NewNoopLogger(),
		metricsClient: observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterAgent registers an agent's capabilities and concurrent task
// capacity. A non-empty clientID scopes the agent to that tenant: it never
// receives another tenant's tasks, but stays eligible for ownerless tasks on
// the global queue.
func (d *Distributor) RegisterAgent(agentID string, capabilities []string, capacity int, clientID string) error {
	if capacity <= 0 {
		return awcperrors.New(awcperrors.InvalidArgument, "capacity must be > 0")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agentID] = &AgentInfo{
		Capabilities: capabilities,
		Capacity:     capacity,
		ClientID:     clientID,
	}
	if clientID != "" {
		if d.clientAgents[clientID] == nil {
			d.clientAgents[clientID] = make(map[string]bool)
		}
		d.clientAgents[clientID][agentID] = true
	}

	if d.naming != nil {
		if err := d.naming.Register(agentID, capabilities); err != nil {
			d.logger.Warnf("naming service registration failed for %s: %v", agentID, err)
		}
	}
	return nil
}

// AgentDisplayName resolves agentID's external display name through the
// configured naming service, falling back to agentID itself when no naming
// service is installed or the agent is unknown to it.
func (d *Distributor) AgentDisplayName(agentID string) string {
	if d.naming == nil {
		return agentID
	}
	if name, ok := d.naming.Resolve(agentID); ok {
		return name
	}
	return agentID
}

// SubmitTask enqueues a task for later distribution. An empty clientID
// places the task on the ownerless global queue, matching
// ownership.SystemOwner's "no tenant" meaning for tasks.
func (d *Distributor) SubmitTask(taskID, taskType string, requirements []string, priority int, clientID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tasks[taskID]; exists {
		return awcperrors.New(awcperrors.InvalidArgument, "task already submitted: "+taskID)
	}

	d.tasks[taskID] = &TaskInfo{
		ID:           taskID,
		Type:         taskType,
		Requirements: requirements,
		Priority:     priority,
		Status:       TaskPending,
		ClientID:     clientID,
	}
	d.enqueueLocked(taskID, clientID)
	return nil
}

func (d *Distributor) enqueueLocked(taskID, clientID string) {
	queueName := clientID
	if queueName == "" {
		queueName = globalQueue
	}
	d.clientQueues[queueName] = append(d.clientQueues[queueName], taskID)
	tasks := d.tasks
	queue := d.clientQueues[queueName]
	sort.SliceStable(queue, func(i, j int) bool {
		return tasks[queue[i]].Priority > tasks[queue[j]].Priority
	})
}

// Distribute assigns pending tasks to agents and returns a map of task id to
// assigned agent id. A non-empty clientID distributes only that tenant's
// queue, draining it in priority order. An empty clientID distributes every
// queue (including the global queue) in round-robin passes across tenants,
// so that one tenant's large backlog cannot starve another's.
func (d *Distributor) Distribute(ctx context.Context, clientID string) map[string]string {
	_, span := observability.TraceDistribution(ctx, clientID)
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	assignments := make(map[string]string)

	if clientID != "" {
		d.drainQueueLocked(clientID, assignments)
		return assignments
	}

	queueNames := make([]string, 0, len(d.clientQueues))
	for name := range d.clientQueues {
		queueNames = append(queueNames, name)
	}
	sort.Strings(queueNames)
	if len(queueNames) == 0 {
		return assignments
	}

	offset := d.rrOffset % len(queueNames)
	rotated := append(append([]string(nil), queueNames[offset:]...), queueNames[:offset]...)

	for {
		progressed := false
		for _, name := range rotated {
			if d.assignNextLocked(name, assignments) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	d.rrOffset = (d.rrOffset + 1) % len(queueNames)

	return assignments
}

// drainQueueLocked assigns every assignable task in queueName's queue,
// in priority order, matching the original single-tenant distribution path.
func (d *Distributor) drainQueueLocked(queueName string, assignments map[string]string) {
	for {
		if !d.assignNextLocked(queueName, assignments) {
			return
		}
	}
}

// assignNextLocked attempts to assign the highest-priority assignable task
// in queueName's queue and reports whether it made progress. It skips over
// (rather than blocks on) tasks with no eligible agent, so that a single
// unassignable task at the head of the queue doesn't halt the queue's
// otherwise-ready backlog.
func (d *Distributor) assignNextLocked(queueName string, assignments map[string]string) bool {
	queue := d.clientQueues[queueName]
	for i, taskID := range queue {
		task := d.tasks[taskID]
		queueClientID := ""
		if queueName != globalQueue {
			queueClientID = queueName
		}
		agentID := d.findBestAgentLocked(task, queueClientID)
		if agentID == "" {
			continue
		}

		task.AssignedTo = agentID
		task.Status = TaskAssigned
		agent := d.agents[agentID]
		agent.CurrentTasks = append(agent.CurrentTasks, taskID)
		agent.Utilization += 1.0 / float64(agent.Capacity)

		d.clientQueues[queueName] = append(append([]string(nil), queue[:i]...), queue[i+1:]...)
		assignments[taskID] = agentID
		d.metricsClient.RecordCounter("distributor_task_assigned_total", 1, map[string]string{"queue": queueName})
		return true
	}
	return false
}

// findBestAgentLocked returns the least-utilized eligible agent for task,
// breaking ties with quality-weighted routing when a quality controller is
// installed.
func (d *Distributor) findBestAgentLocked(task *TaskInfo, clientID string) string {
	var candidateIDs []string
	switch {
	case task.ClientID != "":
		for agentID := range d.clientAgents[task.ClientID] {
			candidateIDs = append(candidateIDs, agentID)
		}
	case clientID != "":
		for agentID := range d.clientAgents[clientID] {
			candidateIDs = append(candidateIDs, agentID)
		}
	default:
		for agentID := range d.agents {
			candidateIDs = append(candidateIDs, agentID)
		}
	}
	sort.Strings(candidateIDs)

	var eligible []string
	for _, agentID := range candidateIDs {
		agent := d.agents[agentID]
		if len(agent.CurrentTasks) >= agent.Capacity {
			continue
		}
		if hasAllCapabilities(agent.Capabilities, task.Requirements) {
			eligible = append(eligible, agentID)
		}
	}
	if len(eligible) == 0 {
		return ""
	}

	minUtilization := d.agents[eligible[0]].Utilization
	for _, agentID := range eligible[1:] {
		if u := d.agents[agentID].Utilization; u < minUtilization {
			minUtilization = u
		}
	}

	var tied []string
	for _, agentID := range eligible {
		if d.agents[agentID].Utilization == minUtilization {
			tied = append(tied, agentID)
		}
	}
	if len(tied) == 1 || d.quality == nil {
		return tied[0]
	}
	if best := d.quality.RouteToBestAgent(task.Type, tied); best != "" {
		return best
	}
	return tied[0]
}

func hasAllCapabilities(has, required []string) bool {
	set := make(map[string]bool, len(has))
	for _, c := range has {
		set[c] = true
	}
	for _, r := range required {
		if !set[r] {
			return false
		}
	}
	return true
}

// CompleteTask marks taskID's terminal state according to outcome and
// releases its agent's capacity, whether the task succeeded or failed.
func (d *Distributor) CompleteTask(taskID string, outcome TaskOutcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[taskID]
	if !ok {
		return awcperrors.New(awcperrors.NotFound, "unknown task: "+taskID)
	}
	if task.Status != TaskAssigned {
		return awcperrors.New(awcperrors.InvalidArgument, "task not assigned: "+taskID)
	}

	var status TaskStatus
	switch outcome {
	case OutcomeCompleted:
		status = TaskComplete
	case OutcomeFailed:
		status = TaskFailed
	default:
		return awcperrors.New(awcperrors.InvalidArgument, "unknown task outcome: "+string(outcome))
	}

	agent := d.agents[task.AssignedTo]
	agent.CurrentTasks = removeString(agent.CurrentTasks, taskID)
	agent.Utilization -= 1.0 / float64(agent.Capacity)
	task.Status = status
	return nil
}

func removeString(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// GetClientTasks returns the in-memory view of every task submitted for
// clientID, regardless of status.
func (d *Distributor) GetClientTasks(clientID string) []TaskInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []TaskInfo
	for _, task := range d.tasks {
		if task.ClientID == clientID {
			out = append(out, *task)
		}
	}
	return out
}

// StartWorkflow offloads a multi-step workflow to the configured
// WorkflowEngine and returns its execution identifier.
func (d *Distributor) StartWorkflow(ctx context.Context, workflow string, input map[string]interface{}, clientID string) (string, error) {
	if d.workflowEngine == nil {
		return "", awcperrors.New(awcperrors.Unavailable, "workflow engine not configured")
	}
	executionID, err := d.workflowEngine.StartExecution(ctx, workflow, input, clientID)
	if err != nil {
		return "", awcperrors.Wrap(err, awcperrors.Unavailable, "start workflow execution")
	}
	return executionID, nil
}

// MirrorTask writes a task's data to the external task store.
func (d *Distributor) MirrorTask(ctx context.Context, taskID string, data map[string]interface{}) error {
	if d.taskStore == nil {
		return awcperrors.New(awcperrors.Unavailable, "task store not configured")
	}
	if err := d.taskStore.PutTask(ctx, taskID, data); err != nil {
		return awcperrors.Wrap(err, awcperrors.Unavailable, "mirror task "+taskID)
	}
	return nil
}

// GetMirroredTask reads a task's data from the external task store.
func (d *Distributor) GetMirroredTask(ctx context.Context, taskID string) (map[string]interface{}, bool, error) {
	if d.taskStore == nil {
		return nil, false, awcperrors.New(awcperrors.Unavailable, "task store not configured")
	}
	data, ok, err := d.taskStore.GetTask(ctx, taskID)
	if err != nil {
		return nil, false, awcperrors.Wrap(err, awcperrors.Unavailable, "get mirrored task "+taskID)
	}
	return data, ok, nil
}

// GetMirroredClientTasks queries the external task store's client index.
func (d *Distributor) GetMirroredClientTasks(ctx context.Context, clientID string) ([]map[string]interface{}, error) {
	if d.taskStore == nil {
		return nil, awcperrors.New(awcperrors.Unavailable, "task store not configured")
	}
	items, err := d.taskStore.QueryByClient(ctx, clientID)
	if err != nil {
		return nil, awcperrors.Wrap(err, awcperrors.Unavailable, "query client tasks for "+clientID)
	}
	return items, nil
}

// ownerForTask returns the ownership tag implied by a task's client id.
func ownerForTask(clientID string) ownership.Tag {
	if clientID == "" {
		return ownership.NewSystemTag()
	}
	return ownership.NewClientTag(clientID, false)
}

// CanAccessTask reports whether requesterID may read or mutate taskID,
// applying the shared ownership access rule to the task's owning client.
func (d *Distributor) CanAccessTask(taskID, requesterID string) (bool, error) {
	d.mu.Lock()
	task, ok := d.tasks[taskID]
	d.mu.Unlock()
	if !ok {
		return false, awcperrors.New(awcperrors.NotFound, "unknown task: "+taskID)
	}
	return ownership.CanAccess(ownerForTask(task.ClientID), requesterID), nil
}
