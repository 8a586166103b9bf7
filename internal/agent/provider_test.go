package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

func chunkStream(chunks ...*CompletionChunk) <-chan *CompletionChunk {
	ch := make(chan *CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollectResponseText(t *testing.T) {
	resp, err := CollectResponse(context.Background(), chunkStream(
		&CompletionChunk{Text: "Hello, "},
		&CompletionChunk{Text: "world."},
		&CompletionChunk{Done: true, FinishReason: "stop", InputTokens: 12, OutputTokens: 4},
	))
	if err != nil {
		t.Fatalf("CollectResponse: %v", err)
	}
	if resp.Content != "Hello, world." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestCollectResponseToolCalls(t *testing.T) {
	resp, err := CollectResponse(context.Background(), chunkStream(
		&CompletionChunk{Text: "Let me check."},
		&CompletionChunk{ToolCall: &models.ToolCall{ID: "c1", Name: "read_file", Input: json.RawMessage(`{"path":"a"}`)}},
		&CompletionChunk{ToolCall: &models.ToolCall{ID: "c2", Name: "read_file", Input: json.RawMessage(`{"path":"b"}`)}},
		&CompletionChunk{Done: true},
	))
	if err != nil {
		t.Fatalf("CollectResponse: %v", err)
	}
	if !resp.HasToolCalls() || len(resp.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "c1" || resp.ToolCalls[1].ID != "c2" {
		t.Errorf("tool call order = %s, %s", resp.ToolCalls[0].ID, resp.ToolCalls[1].ID)
	}
	// Missing finish reason defaults from content shape.
	if resp.FinishReason != "tool_use" {
		t.Errorf("finish reason = %q, want tool_use", resp.FinishReason)
	}
}

func TestCollectResponseDefaultsStopReason(t *testing.T) {
	resp, err := CollectResponse(context.Background(), chunkStream(
		&CompletionChunk{Text: "All set."},
		&CompletionChunk{Done: true},
	))
	if err != nil {
		t.Fatalf("CollectResponse: %v", err)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", resp.FinishReason)
	}
}

func TestCollectResponseStreamError(t *testing.T) {
	streamErr := errors.New("connection reset")
	resp, err := CollectResponse(context.Background(), chunkStream(
		&CompletionChunk{Text: "partial"},
		&CompletionChunk{Error: streamErr},
	))
	if !errors.Is(err, streamErr) {
		t.Fatalf("err = %v, want stream error", err)
	}
	if resp != nil {
		t.Error("partial content must be discarded on stream error")
	}
}

func TestCollectResponseReasoning(t *testing.T) {
	resp, err := CollectResponse(context.Background(), chunkStream(
		&CompletionChunk{Reasoning: "First I should "},
		&CompletionChunk{Reasoning: "read the file."},
		&CompletionChunk{Text: "Reading now."},
		&CompletionChunk{Done: true, FinishReason: "stop"},
	))
	if err != nil {
		t.Fatalf("CollectResponse: %v", err)
	}
	if resp.Reasoning != "First I should read the file." {
		t.Errorf("reasoning = %q", resp.Reasoning)
	}
}

func TestCollectResponseCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan *CompletionChunk)
	_, err := CollectResponse(ctx, ch)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
