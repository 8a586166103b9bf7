package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/pkg/models"
)

// mockTool implements agent.Tool for conversion tests.
type mockTool struct {
	name        string
	description string
	schema      json.RawMessage
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return m.description }
func (m *mockTool) Schema() json.RawMessage { return m.schema }

func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "test result"}, nil
}

func TestNewAnthropicProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      AnthropicConfig
		expectError bool
	}{
		{
			name: "valid config",
			config: AnthropicConfig{
				APIKey:       "test-key",
				MaxRetries:   3,
				RetryDelay:   time.Second,
				DefaultModel: "claude-sonnet-4-20250514",
			},
			expectError: false,
		},
		{
			name:        "missing API key",
			config:      AnthropicConfig{},
			expectError: true,
		},
		{
			name:        "defaults applied",
			config:      AnthropicConfig{APIKey: "test-key"},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewAnthropicProvider(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider.maxRetries <= 0 {
				t.Error("maxRetries should default to a positive value")
			}
			if provider.retryDelay <= 0 {
				t.Error("retryDelay should default to a positive value")
			}
			if provider.defaultModel == "" {
				t.Error("defaultModel should have a default")
			}
		})
	}
}

func TestAnthropicProviderMethods(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	if provider.Name() != "anthropic" {
		t.Errorf("Name() = %q, want %q", provider.Name(), "anthropic")
	}
	if !provider.SupportsTools() {
		t.Error("SupportsTools() should be true")
	}
	if !provider.SupportsStreaming() {
		t.Error("SupportsStreaming() should be true")
	}
	if len(provider.Models()) == 0 {
		t.Error("Models() should not be empty")
	}
	for _, m := range provider.Models() {
		if m.ID == "" || m.ContextSize <= 0 {
			t.Errorf("model %+v missing ID or context size", m)
		}
	}
}

func TestAnthropicSupportsReasoning(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:       "test-key",
		DefaultModel: "claude-opus-4-20250514",
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		model string
		want  bool
	}{
		{"claude-opus-4-20250514", true},
		{"claude-sonnet-4-20250514", true},
		{"claude-3-7-sonnet-latest", true},
		{"claude-3-5-haiku-latest", false},
		{"", true}, // falls back to the opus default
	}

	for _, tt := range tests {
		if got := provider.SupportsReasoning(tt.model); got != tt.want {
			t.Errorf("SupportsReasoning(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestAnthropicConvertMessages(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	messages := []agent.CompletionMessage{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "read the config file"},
		{
			Role:    "assistant",
			Content: "reading it now",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "read_file", Input: json.RawMessage(`{"path":"config.yaml"}`)},
			},
		},
		{
			Role: "tool",
			ToolResults: []models.ToolResult{
				{ToolCallID: "call_1", Content: "engine:\n  max_turns: 50"},
			},
		},
	}

	converted, err := provider.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}

	// System message is dropped; the other three survive.
	if len(converted) != 3 {
		t.Fatalf("got %d messages, want 3", len(converted))
	}
	if converted[0].Role != "user" {
		t.Errorf("first role = %q, want user", converted[0].Role)
	}
	if converted[1].Role != "assistant" {
		t.Errorf("second role = %q, want assistant", converted[1].Role)
	}
	// Tool results ride on a user message in the Anthropic API.
	if converted[2].Role != "user" {
		t.Errorf("tool result role = %q, want user", converted[2].Role)
	}
}

func TestAnthropicConvertMessagesEmptyToolInput(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	// No-argument tool calls come out of the stream with empty Input;
	// replaying that history must not fail the next turn.
	messages := []agent.CompletionMessage{
		{
			Role: "assistant",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "list_files", Input: nil},
				{ID: "call_2", Name: "list_files", Input: json.RawMessage("")},
			},
		},
	}

	converted, err := provider.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("got %d messages, want 1", len(converted))
	}
	if got := len(converted[0].Content); got != 2 {
		t.Fatalf("got %d content blocks, want 2", got)
	}
	for i, block := range converted[0].Content {
		if block.OfToolUse == nil {
			t.Errorf("block %d: expected a tool_use block", i)
		}
	}
}

func TestAnthropicConvertMessagesInvalidToolInput(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	messages := []agent.CompletionMessage{
		{
			Role: "assistant",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "read_file", Input: json.RawMessage(`{not json`)},
			},
		},
	}

	if _, err := provider.convertMessages(messages); err == nil {
		t.Fatal("expected error for invalid tool call input")
	}
}

func TestAnthropicConvertTools(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	tools := []agent.Tool{
		&mockTool{
			name:        "grep_search",
			description: "Search file contents",
			schema:      json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"}},"required":["pattern"]}`),
		},
	}

	converted, err := provider.convertTools(tools)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("got %d tools, want 1", len(converted))
	}
	if converted[0].OfTool == nil {
		t.Fatal("expected OfTool to be set")
	}
	if converted[0].OfTool.Name != "grep_search" {
		t.Errorf("tool name = %q", converted[0].OfTool.Name)
	}

	badTools := []agent.Tool{
		&mockTool{name: "broken", schema: json.RawMessage(`{invalid`)},
	}
	if _, err := provider.convertTools(badTools); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestAnthropicModelDefaults(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:       "test-key",
		DefaultModel: "claude-3-5-haiku-latest",
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := provider.getModel(""); got != "claude-3-5-haiku-latest" {
		t.Errorf("getModel(\"\") = %q", got)
	}
	if got := provider.getModel("claude-opus-4-20250514"); got != "claude-opus-4-20250514" {
		t.Errorf("getModel(explicit) = %q", got)
	}

	if got := provider.getMaxTokens(0); got != 4096 {
		t.Errorf("getMaxTokens(0) = %d, want 4096", got)
	}
	if got := provider.getMaxTokens(-1); got != 4096 {
		t.Errorf("getMaxTokens(-1) = %d, want 4096", got)
	}
	if got := provider.getMaxTokens(8192); got != 8192 {
		t.Errorf("getMaxTokens(8192) = %d", got)
	}
}

func TestAnthropicWrapError(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	if provider.wrapError(nil, "m") != nil {
		t.Error("wrapError(nil) should be nil")
	}

	// Already-classified errors pass through untouched.
	inner := NewProviderError("anthropic", "m", errors.New("x")).WithStatus(429)
	if got := provider.wrapError(inner, "m"); got != inner {
		t.Error("expected already-wrapped error to pass through")
	}

	// Plain errors get classified from their message.
	wrapped := provider.wrapError(errors.New("rate limit exceeded"), "claude-sonnet-4-20250514")
	providerErr, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatal("expected a ProviderError")
	}
	if providerErr.Reason != FailoverRateLimit {
		t.Errorf("Reason = %v, want %v", providerErr.Reason, FailoverRateLimit)
	}
	if !strings.Contains(wrapped.Error(), "anthropic") {
		t.Errorf("Error() = %q, missing provider name", wrapped.Error())
	}
}
