package observability

import "time"

// MetricsOptions contains configuration options for creating a metrics client
type MetricsOptions struct {
	Namespace string
	Labels    map[string]string
}

// NewMetricsClient creates a Prometheus-backed metrics client with default
// options. The default collectors are registered when the client is created;
// any other collector is registered on its first use.
func NewMetricsClient() MetricsClient {
	return NewMetricsClientWithOptions(MetricsOptions{Namespace: "awcp"})
}

// NewMetricsClientWithOptions creates a Prometheus-backed metrics client with
// the given namespace and common labels.
func NewMetricsClientWithOptions(options MetricsOptions) MetricsClient {
	namespace := options.Namespace
	if namespace == "" {
		namespace = "awcp"
	}
	return NewPrometheusMetricsClient(namespace, "", options.Labels)
}

// noopMetricsClient discards every recording call. Used in tests and any
// caller that constructs a component without a metrics backend.
type noopMetricsClient struct{}

// NewNoopMetricsClient returns a MetricsClient that records nothing.
func NewNoopMetricsClient() MetricsClient {
	return noopMetricsClient{}
}

func (noopMetricsClient) RecordEvent(source, eventType string)                    {}
func (noopMetricsClient) RecordLatency(operation string, duration time.Duration)  {}
func (noopMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {}
func (noopMetricsClient) RecordGauge(name string, value float64, labels map[string]string)   {}
func (noopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
}
func (noopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}
func (noopMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
}
func (noopMetricsClient) RecordOperation(component, operation string, success bool, durationSeconds float64, labels map[string]string) {
}
func (noopMetricsClient) RecordAPIOperation(api, operation string, success bool, durationSeconds float64) {
}
func (noopMetricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
}
func (noopMetricsClient) StartTimer(name string, labels map[string]string) func() {
	return func() {}
}
func (noopMetricsClient) IncrementCounter(name string, value float64)                             {}
func (noopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (noopMetricsClient) RecordDuration(name string, duration time.Duration) {}
func (noopMetricsClient) Close() error                                      { return nil }
