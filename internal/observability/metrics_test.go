package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// promauto registers with the default registry, so a single shared instance
// serves every test in this file.
var testMetrics = NewMetrics()

func TestRecordTurn(t *testing.T) {
	testMetrics.RecordTurn("simple", 1.5)
	testMetrics.RecordTurn("simple", 0.5)

	got := testutil.ToFloat64(testMetrics.TurnCounter.WithLabelValues("simple"))
	if got != 2 {
		t.Errorf("turn counter = %v, want 2", got)
	}
}

func TestRecordProviderRequest(t *testing.T) {
	testMetrics.RecordProviderRequest("anthropic", "claude-sonnet-4", "success", 2.0, 100, 50)

	if got := testutil.ToFloat64(testMetrics.ProviderRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4", "success")); got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(testMetrics.TokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "prompt")); got != 100 {
		t.Errorf("prompt tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(testMetrics.TokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "completion")); got != 50 {
		t.Errorf("completion tokens = %v, want 50", got)
	}
}

func TestRecordProviderRequestSkipsZeroTokens(t *testing.T) {
	testMetrics.RecordProviderRequest("openai", "gpt-4o", "error", 1.0, 0, 0)

	if got := testutil.ToFloat64(testMetrics.TokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")); got != 0 {
		t.Errorf("prompt tokens = %v, want 0", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	testMetrics.RecordToolExecution("read_file", "success", 0.01)
	testMetrics.RecordToolExecution("read_file", "error", 0.02)

	if got := testutil.ToFloat64(testMetrics.ToolExecutionCounter.WithLabelValues("read_file", "success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(testMetrics.ToolExecutionCounter.WithLabelValues("read_file", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestRecordLoopAndTrimCounters(t *testing.T) {
	testMetrics.RecordContextTrim("aggressive")
	testMetrics.RecordLoopDetection("tool_streak")
	testMetrics.RecordOutcome("success")
	testMetrics.RecordError("checkpoint", "save_failed")

	if got := testutil.ToFloat64(testMetrics.ContextTrims.WithLabelValues("aggressive")); got != 1 {
		t.Errorf("context trims = %v, want 1", got)
	}
	if got := testutil.ToFloat64(testMetrics.LoopDetections.WithLabelValues("tool_streak")); got != 1 {
		t.Errorf("loop detections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(testMetrics.TaskOutcomes.WithLabelValues("success")); got != 1 {
		t.Errorf("task outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(testMetrics.ErrorCounter.WithLabelValues("checkpoint", "save_failed")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestActiveTasksGauge(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.ActiveTasks)

	testMetrics.TaskStarted()
	testMetrics.TaskStarted()
	if got := testutil.ToFloat64(testMetrics.ActiveTasks); got != before+2 {
		t.Errorf("active tasks = %v, want %v", got, before+2)
	}

	testMetrics.TaskEnded()
	testMetrics.TaskEnded()
	if got := testutil.ToFloat64(testMetrics.ActiveTasks); got != before {
		t.Errorf("active tasks = %v, want %v", got, before)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTurn("simple", 1)
	m.RecordProviderRequest("anthropic", "claude", "success", 1, 1, 1)
	m.RecordToolExecution("read_file", "success", 1)
	m.RecordContextTrim("window")
	m.RecordLoopDetection("repeated_call")
	m.RecordOutcome("success")
	m.RecordError("engine", "oops")
	m.TaskStarted()
	m.TaskEnded()
}
