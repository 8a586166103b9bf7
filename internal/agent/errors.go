package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// Common sentinel errors for engine operations
var (
	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrOverflowRetriesExhausted indicates aggressive trimming could not
	// recover from a provider context-overflow error
	ErrOverflowRetriesExhausted = errors.New("context overflow retries exhausted")
)

// ToolErrorType categorizes tool execution errors.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates arguments failed schema validation
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout indicates the tool exceeded its execution ceiling
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorPolicyViolation indicates the permission gate denied the call
	ToolErrorPolicyViolation ToolErrorType = "policy_violation"

	// ToolErrorRuntimeFailure indicates a runtime error during execution
	ToolErrorRuntimeFailure ToolErrorType = "runtime_failure"

	// ToolErrorPanic indicates the tool panicked
	ToolErrorPanic ToolErrorType = "panic"
)

// ToolError represents a structured error from tool execution. It always
// resolves locally into a ToolResult; it never propagates as a hard failure
// out of a turn.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError classified from its cause.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorRuntimeFailure,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
	}
	return err
}

// WithType sets the error type.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithToolCallID sets the tool call ID for correlating errors with calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorRuntimeFailure
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "permission"),
		strings.Contains(errStr, "denied"),
		strings.Contains(errStr, "forbidden"):
		return ToolErrorPolicyViolation
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "required"),
		strings.Contains(errStr, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorRuntimeFailure
	}
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ProviderError represents a structured transport error from an LLM
// provider.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, "provider")
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError wrapping cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause}
	if cause != nil {
		err.Message = cause.Error()
	}
	return err
}

// WithStatus sets the HTTP status code.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	return e
}

// overflowSignatures are the message fragments providers use to report that
// a request exceeded the model's context window. Matching is deliberately
// loose: every provider words this differently.
var overflowSignatures = []string{
	"context_length_exceeded",
	"context length",
	"maximum context",
	"context window",
	"too many tokens",
	"prompt is too long",
	"input is too long",
	"exceeds the maximum",
}

// IsContextOverflow reports whether err is a provider context-overflow
// error, the one retryable transport failure: the engine responds with
// aggressive trimming and a bounded retry.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range overflowSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// EngineState is the engine's position in the per-turn state machine.
type EngineState string

const (
	// StateThinking is the pre-request phase of a turn
	StateThinking EngineState = "thinking"

	// StateAwaitingProvider means a provider request is in flight
	StateAwaitingProvider EngineState = "awaiting_provider"

	// StateDispatchingTools means tool calls are executing
	StateDispatchingTools EngineState = "dispatching_tools"

	// StateCompleted means the task resolved successfully
	StateCompleted EngineState = "completed"

	// StateAborted means an unrecoverable error ended the task
	StateAborted EngineState = "aborted"

	// StateLoopLimitHit means a loop ceiling terminated the task
	StateLoopLimitHit EngineState = "loop_limit_hit"

	// StateTurnLimitHit means the turn ceiling terminated the task
	StateTurnLimitHit EngineState = "turn_limit_hit"
)

// outcomeState maps a terminal outcome to the engine state it ends in.
func outcomeState(kind models.OutcomeKind) EngineState {
	switch kind {
	case models.OutcomeSuccess:
		return StateCompleted
	case models.OutcomeTurnLimitReached:
		return StateTurnLimitHit
	case models.OutcomeToolLoopLimitReached, models.OutcomeLoopDetected:
		return StateLoopLimitHit
	default:
		return StateAborted
	}
}

// TurnError wraps an error with the turn and engine state it occurred in.
type TurnError struct {
	Turn  int
	State EngineState
	Cause error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %d (%s): %v", e.Turn, e.State, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Cause
}
