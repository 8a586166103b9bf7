// Package files provides the built-in workspace tools: reading, writing,
// editing, listing, and searching files. Every path is resolved against a
// workspace root and may not escape it.
package files

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strandlabs/strand/internal/agent"
)

// Config controls workspace tool defaults.
type Config struct {
	// Workspace is the root directory tools operate in. Empty means the
	// current directory.
	Workspace string

	// MaxReadBytes caps a single read. Default 200000.
	MaxReadBytes int

	// MaxResults caps search and listing output. Default 200.
	MaxResults int
}

func (c Config) maxReadBytes() int {
	if c.MaxReadBytes <= 0 {
		return 200000
	}
	return c.MaxReadBytes
}

func (c Config) maxResults() int {
	if c.MaxResults <= 0 {
		return 200
	}
	return c.MaxResults
}

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path inside the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}

	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	target := clean
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	targetAbs, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}

	return targetAbs, nil
}

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
