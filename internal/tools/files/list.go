package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/strandlabs/strand/internal/agent"
)

// ListTool lists directory entries in the workspace.
type ListTool struct {
	resolver   Resolver
	maxResults int
}

// NewListTool creates a listing tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxResults: cfg.maxResults(),
	}
}

func (t *ListTool) Name() string {
	return "list_files"
}

func (t *ListTool) Description() string {
	return "List files and directories at a workspace path."
}

func (t *ListTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list (default: workspace root).",
			},
		},
	})
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read directory: %v", err)), nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if len(names) > t.maxResults {
		names = names[:t.maxResults]
		truncated = true
	}

	result := map[string]any{
		"path":      input.Path,
		"entries":   names,
		"truncated": truncated,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}
