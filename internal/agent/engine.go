package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	agentcontext "github.com/strandlabs/strand/internal/agent/context"
	"github.com/strandlabs/strand/internal/agent/loopdetect"
	"github.com/strandlabs/strand/internal/agent/routing"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// EngineConfig configures the turn execution loop: turn ceilings, idle
// detection, completion matching, and overflow recovery.
type EngineConfig struct {
	// MaxTurns caps the number of turns a task may run.
	// Default: 50.
	MaxTurns int `yaml:"max_turns"`

	// IdleTurnLimit is the number of consecutive text-only turns without
	// tool calls or a completion signal before the task stops.
	// Default: 3.
	IdleTurnLimit int `yaml:"idle_turn_limit"`

	// CompletionPhrases override the default completion signals when set.
	CompletionPhrases []string `yaml:"completion_phrases"`

	// CheckpointInterval is the turn stride between checkpoint saves.
	// 0 disables checkpointing. Default: 5.
	CheckpointInterval int `yaml:"checkpoint_interval"`

	// OverflowRetryLimit bounds aggressive-trim retries after a context
	// overflow error before the task aborts. Default: 2.
	OverflowRetryLimit int `yaml:"overflow_retry_limit"`

	// SystemPrompt is sent with every provider request.
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxTurns:           50,
		IdleTurnLimit:      3,
		CheckpointInterval: 5,
		OverflowRetryLimit: 2,
	}
}

func sanitizeEngineConfig(config *EngineConfig) *EngineConfig {
	defaults := DefaultEngineConfig()
	if config == nil {
		return defaults
	}
	cfg := *config
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.IdleTurnLimit <= 0 {
		cfg.IdleTurnLimit = defaults.IdleTurnLimit
	}
	if cfg.CheckpointInterval < 0 {
		cfg.CheckpointInterval = 0
	}
	if cfg.OverflowRetryLimit < 0 {
		cfg.OverflowRetryLimit = defaults.OverflowRetryLimit
	}
	return &cfg
}

// Checkpointer persists conversation snapshots between turns. Saves are
// fire-and-forget: a failing sink never fails the task.
type Checkpointer interface {
	Save(ctx context.Context, taskID string, turn int, messages []*models.Message) error
}

// Engine drives one task through the turn loop: classify, request,
// interpret, dispatch, update history, until a terminal outcome.
type Engine struct {
	provider   LLMProvider
	registry   *ToolRegistry
	dispatcher *Dispatcher
	router     *routing.Router
	detector   *loopdetect.Detector
	contextMgr *agentcontext.Manager
	checkpoint Checkpointer
	logger     *observability.Logger
	metrics    *observability.Metrics
	events     *observability.Recorder
	tracer     *observability.Tracer
	config     *EngineConfig
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithCheckpointer sets the checkpoint sink.
func WithCheckpointer(sink Checkpointer) EngineOption {
	return func(e *Engine) { e.checkpoint = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// WithRecorder sets the trajectory event recorder.
func WithRecorder(events *observability.Recorder) EngineOption {
	return func(e *Engine) { e.events = events }
}

// WithTracer sets the distributed tracer. Spans cover each turn, provider
// request, and tool execution.
func WithTracer(tracer *observability.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

// WithDispatchConfig overrides the tool dispatch configuration.
func WithDispatchConfig(config *DispatchConfig) EngineOption {
	return func(e *Engine) {
		e.dispatcher = NewDispatcher(e.registry, e.dispatcher.gate, e.detector, config)
	}
}

// NewEngine assembles an engine from its collaborators. Shared defaults are
// filled in for anything optional left nil.
func NewEngine(
	provider LLMProvider,
	registry *ToolRegistry,
	gate *PermissionGate,
	router *routing.Router,
	trimPolicy agentcontext.TrimPolicy,
	detectorConfig loopdetect.Config,
	config *EngineConfig,
	opts ...EngineOption,
) *Engine {
	detector := loopdetect.New(detectorConfig)
	e := &Engine{
		provider:   provider,
		registry:   registry,
		router:     router,
		detector:   detector,
		contextMgr: agentcontext.NewManager(trimPolicy),
		config:     sanitizeEngineConfig(config),
	}
	e.dispatcher = NewDispatcher(registry, gate, detector, nil)
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.NewLogger(observability.LogConfig{Level: "info"})
	}
	e.dispatcher.instrument(e.metrics, e.tracer)
	return e
}

// Context returns the engine's context manager, mainly for inspection in
// embedding applications.
func (e *Engine) Context() *agentcontext.Manager {
	return e.contextMgr
}

// Run executes the task until a terminal outcome. The outcome is always
// populated; the error return is reserved for invariant violations, not for
// limit or provider failures, which are reported through the outcome.
func (e *Engine) Run(ctx context.Context, task *models.Task, contexts []models.ContextItem) (*models.TaskResults, error) {
	if task == nil {
		return nil, fmt.Errorf("engine: nil task")
	}
	if e.provider == nil {
		return nil, ErrNoProvider
	}

	ctx = context.WithValue(ctx, observability.TaskIDKey, task.ID)
	e.metrics.TaskStarted()
	defer e.metrics.TaskEnded()

	results := &models.TaskResults{
		TaskID:  task.ID,
		Outcome: models.UnknownOutcome(),
	}

	prompt := renderTaskPrompt(task, contexts)
	e.contextMgr.Append(models.NewMessage(models.RoleUser, prompt))

	decision := e.router.Classify(prompt, 0)
	e.logger.Info(ctx, "task started",
		"class", string(decision.Class),
		"model", decision.Model,
		"max_turns", e.config.MaxTurns)
	e.events.Record(ctx, observability.EventTypeTaskStart, task.Title, map[string]any{
		"class": string(decision.Class),
		"model": decision.Model,
	})

	var (
		idleTurns        int
		overflowRetries  int
		lastToolOutput   string
		lastResponseText string
	)

	for turn := 1; turn <= e.config.MaxTurns; turn++ {
		turnStart := time.Now()
		turnCtx := context.WithValue(ctx, observability.TurnKey, turn)

		if ctx.Err() != nil {
			// Cancelled before the turn did any work; it does not count.
			return e.finish(turnCtx, results, models.TaskOutcome{Kind: models.OutcomeCancelled}, lastResponseText)
		}

		turnCtx, turnSpan := e.tracer.TraceTurn(turnCtx, task.ID, turn, string(decision.Class))
		e.logger.Debug(turnCtx, "turn started", "turn", turn, "state", string(StateThinking))

		// recordTurn runs exactly once per executed turn, on every exit
		// path from here on, so terminal turns count toward the totals.
		recordTurn := func() {
			elapsed := time.Since(turnStart)
			results.TurnsExecuted = turn
			results.TurnDurations = append(results.TurnDurations, elapsed)
			e.metrics.RecordTurn(string(decision.Class), elapsed.Seconds())
			e.events.RecordDuration(turnCtx, observability.EventTypeTurnEnd, string(decision.Class), elapsed, nil)
			turnSpan.End()
		}
		endTurn := func(outcome models.TaskOutcome, finalResponse string) (*models.TaskResults, error) {
			recordTurn()
			return e.finish(turnCtx, results, outcome, finalResponse)
		}

		if removed := e.contextMgr.EnforceWindow(); removed > 0 {
			e.metrics.RecordContextTrim("window")
			e.logger.Debug(turnCtx, "context trimmed", "messages_removed", removed)
			e.events.Record(turnCtx, observability.EventTypeContextTrim, "window", map[string]any{
				"messages_removed": removed,
			})
		}

		resp, err := e.complete(turnCtx, decision, &overflowRetries)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return endTurn(models.TaskOutcome{Kind: models.OutcomeCancelled}, lastResponseText)
			}
			if errors.Is(err, ErrOverflowRetriesExhausted) {
				results.AddWarning(fmt.Sprintf(
					"context overflow persisted after %d aggressive trims; aborting",
					e.config.OverflowRetryLimit))
				return endTurn(models.TaskOutcome{Kind: models.OutcomeAborted}, lastResponseText)
			}
			// Provider failure mid-task. If a tool already produced
			// usable output, degrade gracefully instead of discarding
			// the work done so far.
			terr := &TurnError{Turn: turn, State: StateAwaitingProvider, Cause: err}
			e.metrics.RecordError("provider", "request_failed")
			e.events.RecordError(turnCtx, observability.EventTypeProviderError, decision.Model, err)
			if lastToolOutput != "" {
				results.AddWarning(fmt.Sprintf("provider request failed (%v); returning last tool output", terr))
				e.logger.Warn(turnCtx, "provider failed, degrading to last tool output", "error", terr)
				return endTurn(models.SuccessOutcome(), lastToolOutput)
			}
			e.logger.Error(turnCtx, "provider request failed", "error", terr)
			results.AddWarning(fmt.Sprintf("provider request failed: %v", terr))
			return endTurn(models.TaskOutcome{Kind: models.OutcomeAborted}, lastResponseText)
		}

		assistant := models.NewMessage(models.RoleAssistant, resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		assistant.Reasoning = resp.Reasoning
		e.contextMgr.Append(assistant)
		if resp.Content != "" {
			lastResponseText = resp.Content
		}

		if resp.Content != "" && e.detector.RecordResponse(resp.Content) {
			e.metrics.RecordLoopDetection("repeated_response")
			e.events.Record(turnCtx, observability.EventTypeLoopGuard, "repeated_response", nil)
			results.AddWarning("assistant repeated the same response; stopping")
			return endTurn(models.TaskOutcome{Kind: models.OutcomeLoopDetected}, resp.Content)
		}

		if resp.HasToolCalls() {
			idleTurns = 0
			streak := e.detector.RegisterToolTurn()
			if e.detector.ToolLoopLimitExceeded() {
				e.metrics.RecordLoopDetection("tool_streak")
				e.events.Record(turnCtx, observability.EventTypeLoopGuard, "tool_streak", nil)
				results.AddWarning(fmt.Sprintf(
					"reached %d consecutive tool turns; raise max_tool_loops to allow more",
					e.detector.MaxToolLoops()))
				return endTurn(models.ToolLoopLimitReached(e.detector.MaxToolLoops(), streak), lastResponseText)
			}

			outcome, err := e.dispatcher.Dispatch(turnCtx, resp.ToolCalls, decision.MaxParallelTools)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return endTurn(models.TaskOutcome{Kind: models.OutcomeCancelled}, lastResponseText)
				}
				terr := &TurnError{Turn: turn, State: StateDispatchingTools, Cause: err}
				results.AddWarning(fmt.Sprintf("tool dispatch failed: %v", terr))
				return endTurn(models.TaskOutcome{Kind: models.OutcomeAborted}, lastResponseText)
			}

			e.commitDispatch(turnCtx, resp.ToolCalls, outcome, results, &lastToolOutput)

			if outcome.RefusedRepeat {
				e.metrics.RecordLoopDetection("repeated_failure")
				e.events.Record(turnCtx, observability.EventTypeLoopGuard, "repeated_failure", nil)
				results.AddWarning(outcome.RefusalMessage)
				return endTurn(models.SuccessOutcome(), outcome.RefusalMessage)
			}
			if outcome.HardStop {
				e.metrics.RecordLoopDetection("repeated_call")
				e.events.Record(turnCtx, observability.EventTypeLoopGuard, "repeated_call", nil)
				results.AddWarning("identical tool call repeated past the hard limit; stopping")
				return endTurn(models.TaskOutcome{Kind: models.OutcomeLoopDetected}, lastResponseText)
			}
		} else {
			e.detector.ResetToolLoopGuard()

			if CheckCompletion(resp.Content, e.config.CompletionPhrases) {
				return endTurn(models.SuccessOutcome(), resp.Content)
			}

			idleTurns++
			if idleTurns >= e.config.IdleTurnLimit {
				results.AddWarning(fmt.Sprintf(
					"%d consecutive turns without tool calls or a completion signal", idleTurns))
				return endTurn(models.TaskOutcome{Kind: models.OutcomeStoppedNoAction}, resp.Content)
			}
			e.contextMgr.Append(models.NewMessage(models.RoleUser,
				"Continue working on the task, or state explicitly that the task is complete."))
		}

		recordTurn()
		e.saveCheckpoint(turnCtx, task.ID, turn)
	}

	results.AddWarning(fmt.Sprintf(
		"turn limit of %d reached; raise max_turns to allow longer tasks", e.config.MaxTurns))
	return e.finish(ctx, results,
		models.TurnLimitReached(e.config.MaxTurns, e.config.MaxTurns), lastResponseText)
}

// complete issues one provider request, recovering from context overflow
// with bounded aggressive trims.
func (e *Engine) complete(ctx context.Context, decision models.RouterDecision, overflowRetries *int) (*ProviderResponse, error) {
	for {
		req := e.buildRequest(decision)
		start := time.Now()

		reqCtx, span := e.tracer.TraceProviderRequest(ctx, e.provider.Name(), decision.Model)
		chunks, err := e.provider.Complete(reqCtx, req)
		var resp *ProviderResponse
		if err == nil {
			resp, err = CollectResponse(reqCtx, chunks)
		}
		if err == nil {
			span.End()
			e.metrics.RecordProviderRequest(e.provider.Name(), decision.Model, "success",
				time.Since(start).Seconds(), resp.InputTokens, resp.OutputTokens)
			e.events.RecordDuration(ctx, observability.EventTypeProviderCall, decision.Model,
				time.Since(start), map[string]any{
					"input_tokens":  resp.InputTokens,
					"output_tokens": resp.OutputTokens,
				})
			return resp, nil
		}
		e.tracer.RecordError(span, err)
		span.End()

		if !IsContextOverflow(err) {
			e.metrics.RecordProviderRequest(e.provider.Name(), decision.Model, "error",
				time.Since(start).Seconds(), 0, 0)
			return nil, err
		}

		e.metrics.RecordProviderRequest(e.provider.Name(), decision.Model, "overflow",
			time.Since(start).Seconds(), 0, 0)
		if *overflowRetries >= e.config.OverflowRetryLimit {
			return nil, fmt.Errorf("%w: %v", ErrOverflowRetriesExhausted, err)
		}
		*overflowRetries++
		removed := e.contextMgr.AggressiveTrim()
		e.metrics.RecordContextTrim("aggressive")
		e.logger.Warn(ctx, "context overflow, trimming and retrying",
			"retry", *overflowRetries, "messages_removed", removed)
	}
}

func (e *Engine) buildRequest(decision models.RouterDecision) *CompletionRequest {
	req := &CompletionRequest{
		Model:     decision.Model,
		System:    e.config.SystemPrompt,
		Messages:  toCompletionMessages(e.contextMgr.Messages()),
		MaxTokens: decision.MaxTokens,
	}
	if e.provider.SupportsTools() {
		req.Tools = e.registry.AsLLMTools()
	}
	return req
}

// commitDispatch appends the tool-result message and folds the dispatch
// outcome into the running task results.
func (e *Engine) commitDispatch(ctx context.Context, calls []models.ToolCall, outcome *DispatchOutcome, results *models.TaskResults, lastToolOutput *string) {
	if len(outcome.Results) > 0 {
		toolMsg := models.NewMessage(models.RoleTool, "")
		toolMsg.ToolResults = outcome.Results
		e.contextMgr.Append(toolMsg)
	}

	for i, result := range outcome.Results {
		if i < len(calls) {
			results.RecordTool(calls[i].Name)
			if result.IsError {
				e.events.Record(ctx, observability.EventTypeToolError, calls[i].Name, nil)
			} else {
				e.events.Record(ctx, observability.EventTypeToolCall, calls[i].Name, nil)
			}
		}
		if !result.IsError && result.Content != "" {
			*lastToolOutput = result.Content
		}
	}
	for _, path := range outcome.ModifiedFiles {
		results.RecordModifiedFile(path)
	}
	for _, warning := range outcome.Warnings {
		results.AddWarning(warning)
	}

	e.logger.Debug(ctx, "tools dispatched",
		"calls", len(calls),
		"results", len(outcome.Results),
		"modified_files", len(outcome.ModifiedFiles))
}

func (e *Engine) saveCheckpoint(ctx context.Context, taskID string, turn int) {
	if e.checkpoint == nil || e.config.CheckpointInterval == 0 {
		return
	}
	if turn%e.config.CheckpointInterval != 0 {
		return
	}
	if err := e.checkpoint.Save(ctx, taskID, turn, e.contextMgr.Messages()); err != nil {
		e.metrics.RecordError("checkpoint", "save_failed")
		e.logger.Warn(ctx, "checkpoint save failed", "error", err)
		return
	}
	e.events.Record(ctx, observability.EventTypeCheckpoint, "", map[string]any{"turn": turn})
}

// finish stamps the terminal outcome exactly once and returns the results.
func (e *Engine) finish(ctx context.Context, results *models.TaskResults, outcome models.TaskOutcome, finalResponse string) (*models.TaskResults, error) {
	if !results.Outcome.Terminal() {
		results.Outcome = outcome
	}
	if results.FinalResponse == "" {
		results.FinalResponse = finalResponse
	}
	e.metrics.RecordOutcome(string(results.Outcome.Kind))
	e.events.Record(ctx, observability.EventTypeTaskEnd, string(results.Outcome.Kind), map[string]any{
		"turns": results.TurnsExecuted,
	})
	e.logger.Info(ctx, "task finished",
		"outcome", results.Outcome.String(),
		"state", string(outcomeState(results.Outcome.Kind)),
		"turns", results.TurnsExecuted)
	return results, nil
}

// renderTaskPrompt folds the task description, instructions, and context
// items into the opening user message.
func renderTaskPrompt(task *models.Task, contexts []models.ContextItem) string {
	var b strings.Builder
	if task.Title != "" {
		b.WriteString(task.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(task.Description)

	for _, inst := range task.Instructions {
		b.WriteString("\n- ")
		b.WriteString(inst)
	}

	for _, item := range contexts {
		b.WriteString("\n\n<context name=\"")
		b.WriteString(item.Name)
		b.WriteString("\">\n")
		b.WriteString(item.Content)
		b.WriteString("\n</context>")
	}

	return b.String()
}

func toCompletionMessages(messages []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	return out
}
