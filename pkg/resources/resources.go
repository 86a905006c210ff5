// Package resources implements per-resource usage sampling, threshold-band
// classification, autoscaling feedback, and OLS-based usage forecasting.
package resources

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
)

// Status is one of the three utilization bands.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// historyRetention bounds the usage history kept per resource.
const historyRetention = 24 * time.Hour

// minForecastSamples is the minimum number of history samples required to
// fit a forecast model.
const minForecastSamples = 24

// Sample is one (timestamp, used) observation in a resource's history.
type Sample struct {
	Timestamp time.Time
	Used      float64
}

// ThresholdCallback is invoked only when a resource's band changes.
type ThresholdCallback func(resourceID string, newStatus Status, utilization float64)

// MetricSink publishes a resource's utilization to an external monitoring
// backend (e.g. CloudWatch). Errors are logged and never block the local
// status update.
type MetricSink interface {
	PutUtilization(ctx context.Context, resourceID, clientID string, utilization float64) error
}

// ScalingGroupState is the external autoscaling group's current bounds.
type ScalingGroupState struct {
	DesiredCapacity int
	MinSize         int
	MaxSize         int
}

// Autoscaler requests capacity changes on an external scaling group. Errors
// are logged and never block the local status update.
type Autoscaler interface {
	DescribeGroup(ctx context.Context, group string) (ScalingGroupState, error)
	SetDesiredCapacity(ctx context.Context, group string, desired int) error
}

// AlertSink fans a human-facing alert out to an external channel (e.g.
// Slack) when a resource transitions into the critical band. Errors are
// logged and never block the local status update.
type AlertSink interface {
	PostAlert(ctx context.Context, resourceID, clientID string, utilization float64) error
}

// ForecastResult is the supplemented forecast response: the bare point
// projection (Points, satisfying the literal contract) plus a confidence
// band per point.
type ForecastResult struct {
	ResourceID          string
	HoursAhead          int
	Points              []float64
	ConfidenceIntervals [][2]float64
}

type resource struct {
	capacity          float64
	used              float64
	status            Status
	clientID          string
	warningThreshold  float64
	criticalThreshold float64
	autoscalingGroup  string
	history           []Sample
}

// Monitor tracks capacity/usage for named resources and classifies their
// status against configurable thresholds.
type Monitor struct {
	mu sync.Mutex

	resources map[string]*resource
	callbacks map[string][]ThresholdCallback

	sink       MetricSink
	autoscaler Autoscaler
	alerts     AlertSink
	logger     observability.Logger
	metrics    observability.MetricsClient

	monitorMu    sync.Mutex
	monitoring   bool
	stopCh       chan struct{}
	stoppedCh    chan struct{}
	sampleSource func() map[string]float64
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithMetricSink installs the external metric publisher.
func WithMetricSink(sink MetricSink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// WithAutoscaler installs the external autoscaling client.
func WithAutoscaler(autoscaler Autoscaler) Option {
	return func(m *Monitor) { m.autoscaler = autoscaler }
}

// WithAlertSink installs the external alert fan-out client.
func WithAlertSink(sink AlertSink) Option {
	return func(m *Monitor) { m.alerts = sink }
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithMetricsClient overrides the default no-op metrics client.
func WithMetricsClient(client observability.MetricsClient) Option {
	return func(m *Monitor) { m.metrics = client }
}

// WithSampleSource installs a function the background sampler polls each
// tick to obtain fresh usage readings (resourceID -> used). Used in place
// of CloudWatch pull-metrics when the caller drives usage by push instead.
func WithSampleSource(fn func() map[string]float64) Option {
	return func(m *Monitor) { m.sampleSource = fn }
}

// NewMonitor creates a Monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		resources: make(map[string]*resource),
		callbacks: make(map[string][]ThresholdCallback),
		logger:    observability.NewNoopLogger(),
		metrics:   observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterResource registers a new resource to monitor.
func (m *Monitor) RegisterResource(resourceID string, capacity, warning, critical float64, clientID string) error {
	if capacity <= 0 {
		return awcperrors.New(awcperrors.InvalidArgument, "capacity must be > 0")
	}
	if warning >= critical {
		return awcperrors.New(awcperrors.InvalidArgument, "warning threshold must be < critical threshold")
	}
	if critical > 1 {
		return awcperrors.New(awcperrors.InvalidArgument, "critical threshold must be <= 1")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[resourceID] = &resource{
		capacity:          capacity,
		status:            StatusNormal,
		clientID:          clientID,
		warningThreshold:  warning,
		criticalThreshold: critical,
	}
	return nil
}

// RegisterThresholdCallback registers fn to be invoked whenever resourceID's
// band transitions.
func (m *Monitor) RegisterThresholdCallback(resourceID string, fn ThresholdCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[resourceID] = append(m.callbacks[resourceID], fn)
}

// SetAutoscalingGroup binds resourceID to an external scaling group.
func (m *Monitor) SetAutoscalingGroup(resourceID, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceID]
	if !ok {
		return awcperrors.New(awcperrors.NotFound, "unknown resource: "+resourceID)
	}
	r.autoscalingGroup = group
	return nil
}

// UpdateUsage appends a usage sample, recomputes utilization and status
// band, emits a metric, and fires threshold callbacks on band transition.
// Suspension points (metric sink, autoscaler) run outside the resource
// lock.
func (m *Monitor) UpdateUsage(ctx context.Context, resourceID string, used float64, clientID string) error {
	ctx, span := observability.TraceResourceUpdate(ctx, resourceID)
	defer span.End()

	m.mu.Lock()
	r, ok := m.resources[resourceID]
	if !ok {
		m.mu.Unlock()
		return awcperrors.New(awcperrors.NotFound, "unknown resource: "+resourceID)
	}

	now := time.Now()
	r.used = used
	utilization := used / r.capacity
	r.history = append(r.history, Sample{Timestamp: now, Used: used})
	r.history = pruneHistory(r.history, now)

	oldStatus := r.status
	newStatus := bandFor(utilization, r.warningThreshold, r.criticalThreshold)
	r.status = newStatus

	autoscalingGroup := r.autoscalingGroup
	warning := r.warningThreshold
	critical := r.criticalThreshold

	callbacks := append([]ThresholdCallback(nil), m.callbacks[resourceID]...)
	m.mu.Unlock()

	m.metrics.RecordGauge("resource_utilization", utilization, map[string]string{"resource_id": resourceID})

	if m.sink != nil {
		if err := m.sink.PutUtilization(ctx, resourceID, clientID, utilization); err != nil {
			m.logger.Warnf("metric sink PutUtilization(%s) failed: %v", resourceID, err)
		}
	}

	if autoscalingGroup != "" && m.autoscaler != nil {
		m.applyAutoscaling(ctx, resourceID, autoscalingGroup, utilization, warning, critical)
	}

	if oldStatus != newStatus {
		for _, cb := range callbacks {
			cb(resourceID, newStatus, utilization)
		}
		if newStatus == StatusCritical && m.alerts != nil {
			if err := m.alerts.PostAlert(ctx, resourceID, clientID, utilization); err != nil {
				m.logger.Warnf("alert sink PostAlert(%s) failed: %v", resourceID, err)
			}
		}
	}

	return nil
}

func bandFor(utilization, warning, critical float64) Status {
	switch {
	case utilization >= critical:
		return StatusCritical
	case utilization >= warning:
		return StatusWarning
	default:
		return StatusNormal
	}
}

func pruneHistory(history []Sample, now time.Time) []Sample {
	cutoff := now.Add(-historyRetention)
	i := 0
	for i < len(history) && history[i].Timestamp.Before(cutoff) {
		i++
	}
	return history[i:]
}

// applyAutoscaling asks the external scaler for the group's current bounds
// and requests a one-step capacity change on critical (scale up) or
// sub-half-warning (scale down) utilization, clamped to [min, max].
func (m *Monitor) applyAutoscaling(ctx context.Context, resourceID, group string, utilization, warning, critical float64) {
	state, err := m.autoscaler.DescribeGroup(ctx, group)
	if err != nil {
		m.logger.Warnf("autoscaler DescribeGroup(%s) failed: %v", group, err)
		return
	}

	var desired int
	switch {
	case utilization >= critical && state.DesiredCapacity < state.MaxSize:
		desired = state.DesiredCapacity + 1
	case utilization < warning/2 && state.DesiredCapacity > state.MinSize:
		desired = state.DesiredCapacity - 1
	default:
		return
	}

	if err := m.autoscaler.SetDesiredCapacity(ctx, group, desired); err != nil {
		m.logger.Warnf("autoscaler SetDesiredCapacity(%s, %d) failed: %v", group, desired, err)
	}
}

// GetClientUsage returns a tenant-scoped view of usage history: resource id
// to the ordered slice of usage values recorded for a resource owned by
// clientID.
func (m *Monitor) GetClientUsage(clientID string) map[string][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]float64)
	for id, r := range m.resources {
		if r.clientID != clientID {
			continue
		}
		values := make([]float64, len(r.history))
		for i, s := range r.history {
			values[i] = s.Used
		}
		out[id] = values
	}
	return out
}

// Forecast projects resourceID's usage horizonHours into the future via
// ordinary least squares over hourly offsets from the first sample. It
// requires at least minForecastSamples samples and returns an empty result
// otherwise.
func (m *Monitor) Forecast(resourceID string, horizonHours int) ForecastResult {
	m.mu.Lock()
	var history []Sample
	if r, ok := m.resources[resourceID]; ok {
		history = append(history, r.history...)
	}
	m.mu.Unlock()

	result := ForecastResult{ResourceID: resourceID, HoursAhead: horizonHours}
	if len(history) < minForecastSamples {
		return result
	}

	alpha, beta, residualVariance := fitOLS(history)
	first := history[0].Timestamp
	last := history[len(history)-1].Timestamp
	lastOffset := last.Sub(first).Hours()

	stddev := math.Sqrt(residualVariance)
	for i := 1; i <= horizonHours; i++ {
		hours := lastOffset + float64(i)
		point := alpha + beta*hours
		result.Points = append(result.Points, point)
		lower := point - 1.96*stddev
		if lower < 0 {
			lower = 0
		}
		result.ConfidenceIntervals = append(result.ConfidenceIntervals, [2]float64{lower, point + 1.96*stddev})
	}
	return result
}

// fitOLS fits used ~= alpha + beta*hours_since_first_sample by ordinary
// least squares and returns the residual variance of the fit. Per the
// documented open question, the confidence interval is derived from
// residual variance, not the standard deviation of the forecasts
// themselves.
func fitOLS(history []Sample) (alpha, beta, residualVariance float64) {
	n := float64(len(history))
	first := history[0].Timestamp

	var sumX, sumY, sumXY, sumXX float64
	for _, s := range history {
		x := s.Timestamp.Sub(first).Hours()
		y := s.Used
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		alpha = sumY / n
		beta = 0
	} else {
		beta = (n*sumXY - sumX*sumY) / denominator
		alpha = (sumY - beta*sumX) / n
	}

	var sumSquaredResiduals float64
	for _, s := range history {
		x := s.Timestamp.Sub(first).Hours()
		predicted := alpha + beta*x
		residual := s.Used - predicted
		sumSquaredResiduals += residual * residual
	}
	if n > 2 {
		residualVariance = sumSquaredResiduals / (n - 2)
	}
	return alpha, beta, residualVariance
}

// StartMonitoring starts the background sampler at the given interval.
// Idempotent: calling it while already monitoring is a no-op.
func (m *Monitor) StartMonitoring(interval time.Duration) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitoring {
		return
	}
	m.monitoring = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})

	go m.monitorLoop(interval, m.stopCh, m.stoppedCh)
}

// StopMonitoring cooperatively stops the sampler and joins within a bounded
// timeout. Idempotent.
func (m *Monitor) StopMonitoring() {
	m.monitorMu.Lock()
	if !m.monitoring {
		m.monitorMu.Unlock()
		return
	}
	m.monitoring = false
	stopCh := m.stopCh
	stoppedCh := m.stoppedCh
	m.monitorMu.Unlock()

	close(stopCh)
	select {
	case <-stoppedCh:
	case <-time.After(5 * time.Second):
		m.logger.Warn("monitoring loop did not stop within timeout", nil)
	}
}

func (m *Monitor) monitorLoop(interval time.Duration, stopCh, stoppedCh chan struct{}) {
	defer close(stoppedCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if m.sampleSource == nil {
				continue
			}
			for resourceID, used := range m.sampleSource() {
				m.mu.Lock()
				r, ok := m.resources[resourceID]
				var clientID string
				if ok {
					clientID = r.clientID
				}
				m.mu.Unlock()
				if !ok {
					continue
				}
				if err := m.UpdateUsage(context.Background(), resourceID, used, clientID); err != nil {
					m.logger.Warnf("background sample update_usage(%s) failed: %v", resourceID, err)
				}
			}
		}
	}
}

// Status returns resourceID's current status band and utilization.
func (m *Monitor) Status(resourceID string) (Status, float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceID]
	if !ok {
		return "", 0, false
	}
	return r.status, r.used / r.capacity, true
}
