package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting engine metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn throughput and latency per task class
//   - Provider request performance and token consumption
//   - Tool execution patterns and latencies
//   - Context trims and overflow recoveries
//   - Loop detector trips and task outcomes
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordTurn("standard", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts executed turns.
	// Labels: class (simple|standard|complex|codegen_heavy|retrieval_heavy)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	// Labels: class
	TurnDuration *prometheus.HistogramVec

	// ProviderRequestDuration measures provider API call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider requests.
	// Labels: provider, model, status (success|error|overflow)
	ProviderRequestCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|timeout|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ContextTrims counts trimming passes.
	// Labels: kind (window|aggressive|prune)
	ContextTrims *prometheus.CounterVec

	// LoopDetections counts loop guard trips.
	// Labels: guard (repeated_call|tool_streak|repeated_failure|repeated_response)
	LoopDetections *prometheus.CounterVec

	// TaskOutcomes counts terminal outcomes.
	// Labels: outcome
	TaskOutcomes *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (engine|provider|tool|checkpoint), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveTasks is a gauge tracking tasks currently executing.
	ActiveTasks prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_turns_total",
				Help: "Total number of turns executed by task class",
			},
			[]string{"class"},
		),

		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_turn_duration_seconds",
				Help:    "Duration of full turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"class"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_provider_request_duration_seconds",
				Help:    "Duration of provider API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_provider_requests_total",
				Help: "Total number of provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		TokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ContextTrims: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_context_trims_total",
				Help: "Total number of context trimming passes by kind",
			},
			[]string{"kind"},
		),

		LoopDetections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_loop_detections_total",
				Help: "Total number of loop guard trips by guard",
			},
			[]string{"guard"},
		),

		TaskOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_task_outcomes_total",
				Help: "Total number of terminal task outcomes",
			},
			[]string{"outcome"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "strand_active_tasks",
				Help: "Number of tasks currently executing",
			},
		),
	}
}

// RecordTurn records one completed turn for a task class.
func (m *Metrics) RecordTurn(class string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(class).Inc()
	m.TurnDuration.WithLabelValues(class).Observe(durationSeconds)
}

// RecordProviderRequest records one provider call with usage.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordContextTrim records a trimming pass.
func (m *Metrics) RecordContextTrim(kind string) {
	if m == nil {
		return
	}
	m.ContextTrims.WithLabelValues(kind).Inc()
}

// RecordLoopDetection records a loop guard trip.
func (m *Metrics) RecordLoopDetection(guard string) {
	if m == nil {
		return
	}
	m.LoopDetections.WithLabelValues(guard).Inc()
}

// RecordOutcome records a terminal task outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a component.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// TaskStarted marks a task as active.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.ActiveTasks.Inc()
}

// TaskEnded marks a task as no longer active.
func (m *Metrics) TaskEnded() {
	if m == nil {
		return
	}
	m.ActiveTasks.Dec()
}
