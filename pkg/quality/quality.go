// Package quality implements output evaluation, feedback collection, and
// best-agent routing used by the distributor's tie-break step.
package quality

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/awcp/pkg/common/cache"
	"github.com/agentmesh/awcp/pkg/observability"
)

// scoreCacheTTL bounds how long a cached per-agent mean score may be served
// before RouteToBestAgent recomputes it from scratch, even absent a write.
const scoreCacheTTL = time.Minute

// Evaluator scores an output in [0,1]; a non-nil error counts as a failed
// metric without aborting the rest of the evaluation.
type Evaluator func(output interface{}, context map[string]interface{}) (float64, error)

// VerificationFunc runs a task-type-specific check and returns whether it
// passed plus human-readable feedback.
type VerificationFunc func(output interface{}, context map[string]interface{}) (bool, string)

// ImprovementStrategy is the continuous-improvement extension seam: a
// caller may plug in real adaptation (threshold tuning, retraining
// triggers) driven by an agent's feedback history.
type ImprovementStrategy func(agentID string, history []FeedbackEntry)

type metric struct {
	evaluator Evaluator
	threshold float64
}

// MetricResult is the per-metric outcome of Evaluate.
type MetricResult struct {
	Score  float64
	Passed bool
	Error  string
}

// VerificationResult is the per-step outcome of a task-type verification.
type VerificationResult struct {
	Passed   bool
	Feedback string
	Error    string
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	Passed       bool
	OverallScore float64
	Metrics      map[string]MetricResult
	Verification []VerificationResult
}

// FeedbackEntry records one piece of feedback about a task's output.
type FeedbackEntry struct {
	TaskID    string
	AgentID   string
	Source    string
	Content   string
	Rating    *float64
	Score     *float64
	ClientID  string
	TaskType  string
	Timestamp time.Time
}

// AnonymizedFeedback is a feedback record with agent and source identity
// stripped.
type AnonymizedFeedback struct {
	TaskID    string
	Content   string
	Rating    *float64
	Timestamp time.Time
}

// Dashboard is the aggregated view produced by GenerateDashboard.
type Dashboard struct {
	OverallScore             float64
	Metrics                  map[string]float64
	FeedbackCount            int
	AnonymizedFeedbackCount  int
}

// Controller evaluates outputs against registered metrics, records
// feedback, and exposes per-agent aggregate scores for routing.
type Controller struct {
	mu sync.RWMutex

	metrics      map[string]metric
	verification map[string][]VerificationFunc

	feedback        map[string][]FeedbackEntry // keyed by task_id
	anonymized      map[string][]AnonymizedFeedback
	clientStandards map[string]map[string]interface{}
	improvement     ImprovementStrategy

	logger        observability.Logger
	metricsClient observability.MetricsClient
	scoreCache    cache.Cache
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithLogger overrides the default no-op logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetricsClient overrides the default no-op metrics client.
func WithMetricsClient(client observability.MetricsClient) Option {
	return func(c *Controller) { c.metricsClient = client }
}

// WithImprovementStrategy installs a continuous-improvement hook invoked by
// Improve.
func WithImprovementStrategy(strategy ImprovementStrategy) Option {
	return func(c *Controller) { c.improvement = strategy }
}

// WithScoreCache installs a cache for per-agent mean scores, consulted by
// RouteToBestAgent. RecordFeedback deletes only the cached mean of the
// entry's own agent. Without one,
// every route recomputes the mean from the full feedback history.
func WithScoreCache(c2 cache.Cache) Option {
	return func(c *Controller) { c.scoreCache = c2 }
}

// NewController creates a Controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		metrics:         make(map[string]metric),
		verification:    make(map[string][]VerificationFunc),
		feedback:        make(map[string][]FeedbackEntry),
		anonymized:      make(map[string][]AnonymizedFeedback),
		clientStandards: make(map[string]map[string]interface{}),
		logger:          observability.NewNoopLogger(),
		metricsClient:   observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterMetric registers a named quality metric with a passing threshold.
func (c *Controller) RegisterMetric(name string, evaluator Evaluator, threshold float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[name] = metric{evaluator: evaluator, threshold: threshold}
}

// AddVerification adds a verification step for a task type. Multiple steps
// per type run in registration order.
func (c *Controller) AddVerification(taskType string, fn VerificationFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verification[taskType] = append(c.verification[taskType], fn)
}

// Evaluate scores output against every registered metric and runs the
// task type's verification steps. A failing metric or verification step
// marks the whole evaluation as not passed, but never aborts it.
func (c *Controller) Evaluate(taskType string, output interface{}, context map[string]interface{}) Evaluation {
	c.mu.RLock()
	metrics := make(map[string]metric, len(c.metrics))
	for name, m := range c.metrics {
		metrics[name] = m
	}
	steps := append([]VerificationFunc(nil), c.verification[taskType]...)
	c.mu.RUnlock()

	result := Evaluation{
		Passed:  true,
		Metrics: make(map[string]MetricResult, len(metrics)),
	}

	var scores []float64
	for name, m := range metrics {
		score, err := safeEvaluate(m.evaluator, output, context)
		if err != nil {
			result.Metrics[name] = MetricResult{Error: err.Error(), Passed: false}
			result.Passed = false
			continue
		}
		passed := score >= m.threshold
		result.Metrics[name] = MetricResult{Score: score, Passed: passed}
		if !passed {
			result.Passed = false
		}
		scores = append(scores, score)
	}

	if len(scores) > 0 {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		result.OverallScore = sum / float64(len(scores))
	}

	for _, step := range steps {
		passed, feedback := safeVerify(step, output, context)
		result.Verification = append(result.Verification, VerificationResult{Passed: passed, Feedback: feedback})
		if !passed {
			result.Passed = false
		}
	}

	c.metricsClient.RecordGauge("quality_overall_score", result.OverallScore, map[string]string{"task_type": taskType})
	return result
}

func safeEvaluate(fn Evaluator, output interface{}, context map[string]interface{}) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn(output, context)
}

func safeVerify(fn VerificationFunc, output interface{}, context map[string]interface{}) (passed bool, feedback string) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			feedback = panicError(r).Error()
		}
	}()
	return fn(output, context)
}

// RecordFeedback appends a feedback entry for a task/agent pair.
func (c *Controller) RecordFeedback(entry FeedbackEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.feedback[entry.TaskID] = append(c.feedback[entry.TaskID], entry)
	c.mu.Unlock()

	if c.scoreCache != nil && entry.AgentID != "" {
		_ = c.scoreCache.Delete(context.Background(), scoreCacheKey(entry.AgentID))
	}
}

// RecordAnonymized appends a feedback entry with agent and source identity
// stripped.
func (c *Controller) RecordAnonymized(taskID, content string, rating *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anonymized[taskID] = append(c.anonymized[taskID], AnonymizedFeedback{
		TaskID:    taskID,
		Content:   content,
		Rating:    rating,
		Timestamp: time.Now(),
	})
}

// GetAgentFeedback returns every feedback entry recorded for agentID,
// across all tasks.
func (c *Controller) GetAgentFeedback(agentID string) []FeedbackEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []FeedbackEntry
	for _, entries := range c.feedback {
		for _, e := range entries {
			if e.AgentID == agentID {
				out = append(out, e)
			}
		}
	}
	return out
}

// RouteToBestAgent returns the candidate with the highest mean score over
// all of its scored feedback entries, or "" if candidates is empty.
// taskType does not narrow which entries are averaged: entries of every task
// type count, and a cached mean is kept per agent, not per task type. A
// candidate with no scored feedback is treated as score 0.
func (c *Controller) RouteToBestAgent(taskType string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	best := ""
	bestScore := -1.0
	for _, agentID := range candidates {
		score := c.meanScoreLocked(agentID, taskType)
		if score > bestScore {
			bestScore = score
			best = agentID
		}
	}
	return best
}

func (c *Controller) meanScoreLocked(agentID, taskType string) float64 {
	if c.scoreCache != nil {
		var cached float64
		if err := c.scoreCache.Get(context.Background(), scoreCacheKey(agentID), &cached); err == nil {
			return cached
		}
	}

	var sum float64
	var n int
	for _, entries := range c.feedback {
		for _, e := range entries {
			if e.AgentID != agentID {
				continue
			}
			if e.TaskType != "" && e.TaskType != taskType && e.Score == nil {
				continue
			}
			if e.Score == nil {
				continue
			}
			sum += *e.Score
			n++
		}
	}

	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}

	if c.scoreCache != nil {
		_ = c.scoreCache.Set(context.Background(), scoreCacheKey(agentID), mean, scoreCacheTTL)
	}
	return mean
}

func scoreCacheKey(agentID string) string {
	return "quality:mean_score:" + agentID
}

// SetClientStandards records client-specific quality standards (thresholds,
// required metrics) for later retrieval.
func (c *Controller) SetClientStandards(clientID string, standards map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientStandards[clientID] = standards
}

// GetClientStandards returns clientID's standards, or nil if none were set.
func (c *Controller) GetClientStandards(clientID string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientStandards[clientID]
}

// GenerateDashboard aggregates per-metric mean scores and feedback counts,
// optionally filtered to a single agent and/or client.
func (c *Controller) GenerateDashboard(agentID, clientID string) Dashboard {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dashboard := Dashboard{Metrics: make(map[string]float64)}

	metricScores := make(map[string][]float64)
	for _, entries := range c.feedback {
		for _, e := range entries {
			if agentID != "" && e.AgentID != agentID {
				continue
			}
			if clientID != "" && e.ClientID != clientID {
				continue
			}
			dashboard.FeedbackCount++
			if e.Score != nil {
				// The source buckets every scored feedback entry under
				// every registered metric name; a feedback entry does not
				// carry which metric produced it.
				for name := range c.metrics {
					metricScores[name] = append(metricScores[name], *e.Score)
				}
			}
		}
	}

	for name, scores := range metricScores {
		if len(scores) == 0 {
			continue
		}
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		dashboard.Metrics[name] = sum / float64(len(scores))
	}

	for _, entries := range c.anonymized {
		dashboard.AnonymizedFeedbackCount += len(entries)
	}

	if len(dashboard.Metrics) > 0 {
		sum := 0.0
		for _, v := range dashboard.Metrics {
			sum += v
		}
		dashboard.OverallScore = sum / float64(len(dashboard.Metrics))
	}

	return dashboard
}

// Improve runs the installed ImprovementStrategy, if any, against agentID's
// recorded feedback history. It is a documented no-op when no strategy was
// configured.
func (c *Controller) Improve(agentID string) {
	if c.improvement == nil {
		return
	}
	c.improvement(agentID, c.GetAgentFeedback(agentID))
}
