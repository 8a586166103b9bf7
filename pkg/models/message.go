// Package models contains the shared data types used across the engine:
// conversation messages, tool calls and results, tasks, and task outcomes.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation. Messages are append-only
// within an active turn; the engine never rewrites committed history.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	// Reasoning holds the model's reasoning trace when the provider
	// exposes one. It is never sent back to the provider.
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// HasToolCalls reports whether the message carries at least one tool call.
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// ToolCall is a model request to execute a tool. The ID is unique within a
// turn and is the join key to the eventual ToolResult.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultErrorType classifies a failed tool result.
type ToolResultErrorType string

const (
	ToolResultErrorNone            ToolResultErrorType = ""
	ToolResultErrorPolicyViolation ToolResultErrorType = "policy_violation"
	ToolResultErrorTimeout         ToolResultErrorType = "timeout"
	ToolResultErrorRuntimeFailure  ToolResultErrorType = "runtime_failure"
)

// ToolResult is the structured outcome of one tool call. Exactly one
// ToolResult is recorded per ToolCall.
type ToolResult struct {
	ToolCallID string              `json:"tool_call_id"`
	Content    string              `json:"content"`
	IsError    bool                `json:"is_error,omitempty"`
	ErrorType  ToolResultErrorType `json:"error_type,omitempty"`
}

// Timeout reports whether the result represents a timed-out execution.
// Timeouts are tracked separately from failures so a slow environment does
// not trip the repeated-failure guard.
func (r ToolResult) Timeout() bool {
	return r.ErrorType == ToolResultErrorTimeout
}
