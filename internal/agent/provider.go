package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// LLMProvider defines the interface for language-model backends.
//
// Implementations handle the specifics of communicating with different LLM
// APIs (Anthropic, OpenAI, ...) while presenting a unified streaming
// interface to the engine. Implementations must be safe for concurrent use:
// multiple goroutines may call Complete simultaneously for different
// requests.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response. Providers
	// without native streaming deliver the full response as a single chunk
	// followed by a Done chunk; both transports converge to the same
	// channel shape.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool

	// SupportsStreaming returns whether the provider delivers incremental
	// chunks or only single-shot responses.
	SupportsStreaming() bool

	// SupportsReasoning returns whether the given model exposes a
	// reasoning trace.
	SupportsReasoning(model string) bool
}

// Model describes a model a provider can serve.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// CompletionRequest contains all parameters for one provider request.
type CompletionRequest struct {
	// Model specifies which model to use. Empty means provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages in
	// most LLM APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tools the model may request. Empty disables tool
	// calling for the request.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the generated response length. 0 means provider
	// default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is one message in provider wire shape.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is a single event in a streaming response. Token deltas,
// reasoning deltas, complete tool calls, and the final completion all arrive
// as chunks on one channel.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// Reasoning contains partial reasoning-trace text.
	Reasoning string `json:"reasoning,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// FinishReason is set on the final chunk: "stop", "tool_use",
	// "max_tokens", or provider-specific values.
	FinishReason string `json:"finish_reason,omitempty"`

	// InputTokens and OutputTokens report usage, final chunk only.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Error terminates the stream when set.
	Error error `json:"-"`
}

// ProviderResponse is the collected form of one completion: every transport
// mode converges to this value before the engine interprets it.
type ProviderResponse struct {
	Content      string            `json:"content"`
	Reasoning    string            `json:"reasoning,omitempty"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	InputTokens  int               `json:"input_tokens,omitempty"`
	OutputTokens int               `json:"output_tokens,omitempty"`
}

// HasToolCalls reports whether the response requests tool execution.
func (r *ProviderResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// CollectResponse drains a chunk stream into a single ProviderResponse.
// Cancellation is polled between events rather than forcing an abort
// mid-chunk. A stream error discards any partial content and returns the
// error.
func CollectResponse(ctx context.Context, chunks <-chan *CompletionChunk) (*ProviderResponse, error) {
	var (
		content   strings.Builder
		reasoning strings.Builder
		resp      ProviderResponse
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				resp.Content = content.String()
				resp.Reasoning = reasoning.String()
				return &resp, nil
			}
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				return nil, chunk.Error
			}
			if chunk.Text != "" {
				content.WriteString(chunk.Text)
			}
			if chunk.Reasoning != "" {
				reasoning.WriteString(chunk.Reasoning)
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.InputTokens > 0 {
				resp.InputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				resp.OutputTokens = chunk.OutputTokens
			}
			if chunk.FinishReason != "" {
				resp.FinishReason = chunk.FinishReason
			}
			if chunk.Done {
				resp.Content = content.String()
				resp.Reasoning = reasoning.String()
				if resp.FinishReason == "" {
					if len(resp.ToolCalls) > 0 {
						resp.FinishReason = "tool_use"
					} else {
						resp.FinishReason = "stop"
					}
				}
				return &resp, nil
			}
		}
	}
}

// AsJSON converts tool input to JSON if it is not already a
// json.RawMessage, []byte, or string.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
