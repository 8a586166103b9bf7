package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/strandlabs/strand/internal/agent/loopdetect"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// DispatchConfig configures tool dispatch behavior.
type DispatchConfig struct {
	// ToolTimeout is the execution ceiling per tool call.
	// Default: 3 minutes.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// MaxParallel bounds concurrent executions on the parallel path when
	// the router decision carries no budget. Default: 5.
	MaxParallel int `yaml:"max_parallel"`

	// ReadOnlyTools is the allow-set for parallel execution. Only calls
	// whose tools all appear here may fan out; mutation and shell
	// execution never do.
	ReadOnlyTools []string `yaml:"read_only_tools"`
}

// DefaultReadOnlyTools lists the listing/reading/searching tools eligible
// for parallel dispatch.
var DefaultReadOnlyTools = []string{
	"read_file",
	"list_files",
	"grep_search",
	"find_files",
	"code_search",
}

// DefaultDispatchConfig returns the default dispatch configuration.
func DefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		ToolTimeout:   3 * time.Minute,
		MaxParallel:   5,
		ReadOnlyTools: DefaultReadOnlyTools,
	}
}

func sanitizeDispatchConfig(config *DispatchConfig) *DispatchConfig {
	defaults := DefaultDispatchConfig()
	if config == nil {
		return defaults
	}
	cfg := *config
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaults.ToolTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaults.MaxParallel
	}
	if cfg.ReadOnlyTools == nil {
		cfg.ReadOnlyTools = defaults.ReadOnlyTools
	}
	return &cfg
}

// Dispatcher executes the tool calls of one turn under the concurrency
// policy: read-only calls may fan out, anything mutating runs strictly
// sequentially. Results always commit in original call order.
type Dispatcher struct {
	registry *ToolRegistry
	gate     *PermissionGate
	detector *loopdetect.Detector
	config   *DispatchConfig
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewDispatcher creates a dispatcher. If config is nil,
// DefaultDispatchConfig is used.
func NewDispatcher(registry *ToolRegistry, gate *PermissionGate, detector *loopdetect.Detector, config *DispatchConfig) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		gate:     gate,
		detector: detector,
		config:   sanitizeDispatchConfig(config),
	}
}

// instrument attaches the engine's metrics and tracer. Both are nil-safe,
// so dispatch code calls them unconditionally.
func (d *Dispatcher) instrument(metrics *observability.Metrics, tracer *observability.Tracer) {
	d.metrics = metrics
	d.tracer = tracer
}

// DispatchOutcome is everything one dispatch round produced.
type DispatchOutcome struct {
	// Results holds exactly one ToolResult per call, in call order.
	Results []models.ToolResult

	// HardStop is set when the loop detector's hard ceiling tripped;
	// remaining calls were not executed.
	HardStop bool

	// RefusedRepeat is set when the repeated-failure guard refused a call
	// pre-execution. The turn ends Completed, not Aborted, to avoid
	// retry storms.
	RefusedRepeat bool

	// RefusalMessage explains a refusal to the user.
	RefusalMessage string

	// ModifiedFiles lists files touched by mutating calls this round.
	ModifiedFiles []string

	// Warnings carries loop-detector soft warnings.
	Warnings []string
}

// Dispatch executes calls under the concurrency policy. maxParallel, when
// positive, is the router decision's parallelism budget and overrides the
// configured bound. The returned error is non-nil only for cancellation;
// tool failures come back inside Results.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.ToolCall, maxParallel int) (*DispatchOutcome, error) {
	outcome := &DispatchOutcome{}
	if len(calls) == 0 {
		return outcome, nil
	}

	// Repeated-failure guard: refuse known-failing calls before touching
	// anything.
	for _, call := range calls {
		if d.detector.FailureLimitReached(call.Name, call.Input) {
			outcome.RefusedRepeat = true
			outcome.RefusalMessage = fmt.Sprintf(
				"Tool call %s was refused: this exact call has already failed %d times in this session. Stopping here instead of retrying; adjust the arguments or take a different approach.",
				call.Name, d.detector.FailureCount(call.Name, call.Input),
			)
			return outcome, nil
		}
	}

	if len(calls) > 1 && d.allReadOnly(calls) {
		return d.dispatchParallel(ctx, calls, maxParallel, outcome)
	}
	return d.dispatchSequential(ctx, calls, outcome)
}

func (d *Dispatcher) allReadOnly(calls []models.ToolCall) bool {
	for _, call := range calls {
		if !d.isReadOnly(call.Name) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) isReadOnly(name string) bool {
	for _, t := range d.config.ReadOnlyTools {
		if t == name {
			return true
		}
	}
	return false
}

// dispatchSequential executes strictly one call at a time in call order,
// re-checking cancellation and the hard stop between calls.
func (d *Dispatcher) dispatchSequential(ctx context.Context, calls []models.ToolCall, outcome *DispatchOutcome) (*DispatchOutcome, error) {
	for _, call := range calls {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		default:
		}

		if warning := d.detector.RecordCall(call.Name, call.Input); warning != "" {
			outcome.Warnings = append(outcome.Warnings, warning)
		}
		if d.detector.HardLimitExceeded() {
			outcome.HardStop = true
			return outcome, nil
		}

		result, err := d.executeOne(ctx, call)
		if err != nil {
			return outcome, err
		}
		outcome.collect(call, result)
	}
	return outcome, nil
}

// dispatchParallel fans calls out concurrently, bounded by the parallelism
// budget, and commits results in original call order regardless of
// completion order so replay stays deterministic.
func (d *Dispatcher) dispatchParallel(ctx context.Context, calls []models.ToolCall, maxParallel int, outcome *DispatchOutcome) (*DispatchOutcome, error) {
	bound := d.config.MaxParallel
	if maxParallel > 0 {
		bound = maxParallel
	}

	// Record every call before any launch; a hard stop here means
	// nothing in the batch executes.
	for _, call := range calls {
		if warning := d.detector.RecordCall(call.Name, call.Input); warning != "" {
			outcome.Warnings = append(outcome.Warnings, warning)
		}
	}
	if d.detector.HardLimitExceeded() {
		outcome.HardStop = true
		return outcome, nil
	}

	results := make([]models.ToolResult, len(calls))
	sem := make(chan struct{}, bound)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = timeoutResult(tc, ctx.Err().Error())
				return
			}
			result, err := d.executeOne(ctx, tc)
			if err != nil {
				results[idx] = timeoutResult(tc, err.Error())
				return
			}
			results[idx] = result
		}(i, call)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	for i, call := range calls {
		outcome.collect(call, results[i])
	}
	return outcome, nil
}

// executeOne performs exactly one execution attempt for a call, recording
// the span and the per-tool duration around it.
func (d *Dispatcher) executeOne(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	start := time.Now()
	ctx, span := d.tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	result, err := d.executeGated(ctx, call)
	switch {
	case err != nil:
		d.tracer.RecordError(span, err)
		d.metrics.RecordToolExecution(call.Name, "cancelled", time.Since(start).Seconds())
	case result.IsError:
		d.metrics.RecordToolExecution(call.Name, resultStatus(result), time.Since(start).Seconds())
	default:
		d.metrics.RecordToolExecution(call.Name, "success", time.Since(start).Seconds())
	}
	return result, err
}

func resultStatus(result models.ToolResult) string {
	switch result.ErrorType {
	case models.ToolResultErrorTimeout:
		return "timeout"
	case models.ToolResultErrorPolicyViolation:
		return "denied"
	default:
		return "error"
	}
}

// executeGated runs the permission gate, then the tool itself under the
// per-call timeout. Internal retrying is the tool layer's concern, never
// the engine's.
func (d *Dispatcher) executeGated(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	decision, err := d.gate.Resolve(ctx, call)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return models.ToolResult{}, context.Canceled
		}
		return denialResult(call, err.Error()), nil
	}
	if decision == PermissionDeny {
		d.detector.RecordFailure(call.Name, call.Input)
		return denialResult(call, "permission denied by policy"), nil
	}

	result, execErr := d.executeWithTimeout(ctx, call)
	if execErr != nil {
		toolErr, ok := GetToolError(execErr)
		if ok && toolErr.Type == ToolErrorTimeout {
			// Timeouts are tracked separately from the repeated-failure
			// guard so one slow environment does not trip loop detection.
			return timeoutResult(call, toolErr.Error()), nil
		}
		d.detector.RecordFailure(call.Name, call.Input)
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    execErr.Error(),
			IsError:    true,
			ErrorType:  models.ToolResultErrorRuntimeFailure,
		}, nil
	}

	if result.IsError {
		d.detector.RecordFailure(call.Name, call.Input)
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    result.Content,
			IsError:    true,
			ErrorType:  models.ToolResultErrorRuntimeFailure,
		}, nil
	}

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Content,
	}, nil
}

// executeWithTimeout runs the tool with the configured ceiling, recovering
// panics into structured errors.
func (d *Dispatcher) executeWithTimeout(ctx context.Context, call models.ToolCall) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.config.ToolTimeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := d.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution exceeded %s", d.config.ToolTimeout))
	}
}

func (o *DispatchOutcome) collect(call models.ToolCall, result models.ToolResult) {
	o.Results = append(o.Results, result)
	if !result.IsError {
		if path := modifiedFileFromCall(call); path != "" {
			o.ModifiedFiles = append(o.ModifiedFiles, path)
		}
	}
}

// mutatingToolPrefixes identifies calls that touch the workspace so the
// engine can report modified files in TaskResults.
var mutatingToolPrefixes = []string{"write_", "edit_", "delete_", "create_"}

func modifiedFileFromCall(call models.ToolCall) string {
	mutating := false
	for _, prefix := range mutatingToolPrefixes {
		if strings.HasPrefix(call.Name, prefix) {
			mutating = true
			break
		}
	}
	if !mutating {
		return ""
	}
	var args struct {
		Path     string `json:"path"`
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return ""
	}
	if args.Path != "" {
		return args.Path
	}
	return args.FilePath
}

func denialResult(call models.ToolCall, reason string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    fmt.Sprintf("tool call %s was not executed: %s", call.Name, reason),
		IsError:    true,
		ErrorType:  models.ToolResultErrorPolicyViolation,
	}
}

func timeoutResult(call models.ToolCall, detail string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    detail,
		IsError:    true,
		ErrorType:  models.ToolResultErrorTimeout,
	}
}
