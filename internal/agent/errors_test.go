package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

func TestToolErrorUnwrap(t *testing.T) {
	cause := errors.New("file missing")
	err := NewToolError("read_file", cause).WithType(ToolErrorNotFound).WithToolCallID("c1")

	if !errors.Is(err, cause) {
		t.Error("ToolError should unwrap to its cause")
	}

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatal("errors.As should find the ToolError")
	}
	if toolErr.ToolName != "read_file" || toolErr.ToolCallID != "c1" {
		t.Errorf("tool error = %+v", toolErr)
	}
}

func TestGetToolError(t *testing.T) {
	inner := NewToolError("grep_search", errors.New("bad regex"))
	wrapped := fmt.Errorf("dispatch: %w", inner)

	got, ok := GetToolError(wrapped)
	if !ok {
		t.Fatal("GetToolError should find a wrapped ToolError")
	}
	if got.ToolName != "grep_search" {
		t.Errorf("tool name = %s", got.ToolName)
	}

	if _, ok := GetToolError(errors.New("plain")); ok {
		t.Error("plain errors are not tool errors")
	}
}

func TestProviderErrorRendering(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4", errors.New("rate limited")).WithStatus(429)

	msg := err.Error()
	for _, want := range []string{"anthropic", "claude-sonnet-4", "429"} {
		if !containsAll(msg, want) {
			t.Errorf("error %q should mention %s", msg, want)
		}
	}
	if !errors.Is(err, err.Cause) {
		t.Error("provider error should unwrap to its cause")
	}
}

func TestIsContextOverflow(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"openai style", errors.New("400: context_length_exceeded"), true},
		{"anthropic style", errors.New("prompt is too long: 210000 tokens"), true},
		{"generic window", errors.New("request exceeds the maximum context window"), true},
		{"wrapped", fmt.Errorf("request: %w", errors.New("maximum context length is 200000 tokens")), true},
		{"case variance", errors.New("Context Length Exceeded"), true},
		{"unrelated", errors.New("connection refused"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsContextOverflow(tt.err); got != tt.want {
				t.Errorf("IsContextOverflow(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTurnError(t *testing.T) {
	cause := errors.New("stream reset")
	err := &TurnError{Turn: 7, State: StateAwaitingProvider, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("TurnError should unwrap to its cause")
	}
	if !containsAll(err.Error(), "7", string(StateAwaitingProvider)) {
		t.Errorf("error %q should carry the turn and state", err.Error())
	}
}

func TestOutcomeState(t *testing.T) {
	tests := []struct {
		kind models.OutcomeKind
		want EngineState
	}{
		{models.OutcomeSuccess, StateCompleted},
		{models.OutcomeTurnLimitReached, StateTurnLimitHit},
		{models.OutcomeToolLoopLimitReached, StateLoopLimitHit},
		{models.OutcomeLoopDetected, StateLoopLimitHit},
		{models.OutcomeStoppedNoAction, StateAborted},
		{models.OutcomeCancelled, StateAborted},
		{models.OutcomeAborted, StateAborted},
	}
	for _, tt := range tests {
		if got := outcomeState(tt.kind); got != tt.want {
			t.Errorf("outcomeState(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}
