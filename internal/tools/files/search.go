package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/strandlabs/strand/internal/agent"
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
}

// codeExtensions is the file filter for code_search.
var codeExtensions = map[string]bool{
	".go": true, ".rs": true, ".py": true, ".js": true, ".ts": true,
	".tsx": true, ".jsx": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".rb": true, ".sh": true, ".sql": true,
}

// walkFiles visits regular files under root, skipping VCS and dependency
// directories.
func walkFiles(root string, visit func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		return visit(path)
	})
}

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func grepFile(path, display string, re *regexp.Regexp, limit int, matches *[]grepMatch) error {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			*matches = append(*matches, grepMatch{Path: display, Line: lineNo, Text: line})
			if len(*matches) >= limit {
				return filepath.SkipAll
			}
		}
	}
	return nil
}

func searchWorkspace(resolver Resolver, startPath, pattern string, codeOnly bool, limit int) (*agent.ToolResult, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return toolError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	root, err := resolver.Resolve(startPath)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var matches []grepMatch
	walkErr := walkFiles(root, func(path string) error {
		if codeOnly && !codeExtensions[filepath.Ext(path)] {
			return nil
		}
		display, err := filepath.Rel(root, path)
		if err != nil {
			display = path
		}
		return grepFile(path, display, re, limit, &matches)
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return toolError(fmt.Sprintf("search failed: %v", walkErr)), nil
	}

	result := map[string]any{
		"pattern":   pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": len(matches) >= limit,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

// GrepTool searches file contents by regular expression.
type GrepTool struct {
	resolver   Resolver
	maxResults int
}

// NewGrepTool creates a content-search tool scoped to the workspace.
func NewGrepTool(cfg Config) *GrepTool {
	return &GrepTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxResults: cfg.maxResults(),
	}
}

func (t *GrepTool) Name() string {
	return "grep_search"
}

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression."
}

func (t *GrepTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search (default: workspace root).",
			},
		},
		"required": []string{"pattern"},
	})
}

func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Pattern == "" {
		return toolError("pattern is required"), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}
	return searchWorkspace(t.resolver, input.Path, input.Pattern, false, t.maxResults)
}

// CodeSearchTool is grep_search restricted to source files.
type CodeSearchTool struct {
	resolver   Resolver
	maxResults int
}

// NewCodeSearchTool creates a code-search tool scoped to the workspace.
func NewCodeSearchTool(cfg Config) *CodeSearchTool {
	return &CodeSearchTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxResults: cfg.maxResults(),
	}
}

func (t *CodeSearchTool) Name() string {
	return "code_search"
}

func (t *CodeSearchTool) Description() string {
	return "Search source files with a regular expression, skipping non-code files."
}

func (t *CodeSearchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search (default: workspace root).",
			},
		},
		"required": []string{"pattern"},
	})
}

func (t *CodeSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Pattern == "" {
		return toolError("pattern is required"), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}
	return searchWorkspace(t.resolver, input.Path, input.Pattern, true, t.maxResults)
}

// FindTool locates files by name glob.
type FindTool struct {
	resolver   Resolver
	maxResults int
}

// NewFindTool creates a filename-search tool scoped to the workspace.
func NewFindTool(cfg Config) *FindTool {
	return &FindTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxResults: cfg.maxResults(),
	}
}

func (t *FindTool) Name() string {
	return "find_files"
}

func (t *FindTool) Description() string {
	return "Find files whose name matches a glob pattern."
}

func (t *FindTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob matched against file names, e.g. *.go.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search (default: workspace root).",
			},
		},
		"required": []string{"pattern"},
	})
}

func (t *FindTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Pattern == "" {
		return toolError("pattern is required"), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	root, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var found []string
	walkErr := walkFiles(root, func(path string) error {
		ok, err := filepath.Match(input.Pattern, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		if ok {
			display, err := filepath.Rel(root, path)
			if err != nil {
				display = path
			}
			found = append(found, display)
			if len(found) >= t.maxResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return toolError(walkErr.Error()), nil
	}

	result := map[string]any{
		"pattern":   input.Pattern,
		"files":     found,
		"count":     len(found),
		"truncated": len(found) >= t.maxResults,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}
