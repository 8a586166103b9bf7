package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/agent"
)

func setupWorkspace(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("main.go", "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n")
	write("notes.txt", "grocery list\nhello world\n")
	write("src/util.go", "package src\n\nfunc Helper() string { return \"hello\" }\n")
	write(".git/config", "[core]\n")

	return Config{Workspace: root}
}

func exec(t *testing.T, tool agent.Tool, params string) *agent.ToolResult {
	t.Helper()
	result, err := tool.Execute(context.Background(), json.RawMessage(params))
	if err != nil {
		t.Fatalf("%s: %v", tool.Name(), err)
	}
	return result
}

func decode(t *testing.T, result *agent.ToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, result.Content)
	}
	return payload
}

func TestReadTool(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewReadTool(cfg)

	result := exec(t, tool, `{"path":"main.go"}`)
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	payload := decode(t, result)
	if !strings.Contains(payload["content"].(string), "package main") {
		t.Errorf("content = %q", payload["content"])
	}
	if payload["truncated"].(bool) {
		t.Error("small file should not be truncated")
	}
}

func TestReadToolLimits(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewReadTool(cfg)

	result := exec(t, tool, `{"path":"main.go","max_bytes":7}`)
	payload := decode(t, result)
	if payload["content"].(string) != "package" {
		t.Errorf("content = %q, want first 7 bytes", payload["content"])
	}
	if !payload["truncated"].(bool) {
		t.Error("limited read should report truncation")
	}
}

func TestReadToolErrors(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewReadTool(cfg)

	tests := []struct {
		name   string
		params string
	}{
		{"missing file", `{"path":"absent.go"}`},
		{"empty path", `{"path":""}`},
		{"escape attempt", `{"path":"../outside.txt"}`},
		{"directory", `{"path":"src"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := exec(t, tool, tt.params); !result.IsError {
				t.Errorf("expected error result, got %s", result.Content)
			}
		})
	}
}

func TestWriteTool(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewWriteTool(cfg)

	result := exec(t, tool, `{"path":"new/file.txt","content":"created"}`)
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if result.ModifiedFile != "new/file.txt" {
		t.Errorf("ModifiedFile = %q", result.ModifiedFile)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Workspace, "new/file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "created" {
		t.Errorf("file content = %q", data)
	}
}

func TestWriteToolAppend(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewWriteTool(cfg)

	exec(t, tool, `{"path":"log.txt","content":"one\n"}`)
	exec(t, tool, `{"path":"log.txt","content":"two\n","append":true}`)

	data, err := os.ReadFile(filepath.Join(cfg.Workspace, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestEditTool(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewEditTool(cfg)

	result := exec(t, tool, `{"path":"main.go","old_string":"println(\"hello\")","new_string":"println(\"goodbye\")"}`)
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if result.ModifiedFile != "main.go" {
		t.Errorf("ModifiedFile = %q", result.ModifiedFile)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Workspace, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "goodbye") {
		t.Errorf("edit not applied: %s", data)
	}
}

func TestEditToolAmbiguousMatch(t *testing.T) {
	cfg := setupWorkspace(t)
	writeTool := NewWriteTool(cfg)
	exec(t, writeTool, `{"path":"dup.txt","content":"aaa\naaa\n"}`)

	tool := NewEditTool(cfg)
	result := exec(t, tool, `{"path":"dup.txt","old_string":"aaa","new_string":"bbb"}`)
	if !result.IsError {
		t.Fatal("expected error for ambiguous match")
	}

	result = exec(t, tool, `{"path":"dup.txt","old_string":"aaa","new_string":"bbb","replace_all":true}`)
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	payload := decode(t, result)
	if payload["replacements"].(float64) != 2 {
		t.Errorf("replacements = %v, want 2", payload["replacements"])
	}
}

func TestEditToolNotFound(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewEditTool(cfg)

	result := exec(t, tool, `{"path":"main.go","old_string":"absent text","new_string":"x"}`)
	if !result.IsError {
		t.Fatal("expected error when old_string is absent")
	}
}

func TestListTool(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewListTool(cfg)

	result := exec(t, tool, `{}`)
	payload := decode(t, result)
	entries := payload["entries"].([]any)

	var names []string
	for _, e := range entries {
		names = append(names, e.(string))
	}
	joined := strings.Join(names, " ")
	if !strings.Contains(joined, "main.go") || !strings.Contains(joined, "src/") {
		t.Errorf("entries = %v", names)
	}
}

func TestGrepTool(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewGrepTool(cfg)

	result := exec(t, tool, `{"pattern":"hello"}`)
	payload := decode(t, result)
	// main.go, notes.txt, and src/util.go all contain hello; .git is skipped.
	if payload["count"].(float64) != 3 {
		t.Errorf("count = %v, want 3\n%s", payload["count"], result.Content)
	}
}

func TestGrepToolInvalidPattern(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewGrepTool(cfg)

	result := exec(t, tool, `{"pattern":"[unclosed"}`)
	if !result.IsError {
		t.Fatal("expected error for invalid regexp")
	}
}

func TestCodeSearchSkipsNonCode(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewCodeSearchTool(cfg)

	result := exec(t, tool, `{"pattern":"hello"}`)
	payload := decode(t, result)
	// notes.txt is excluded, only the two .go files match.
	if payload["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2\n%s", payload["count"], result.Content)
	}
}

func TestFindTool(t *testing.T) {
	cfg := setupWorkspace(t)
	tool := NewFindTool(cfg)

	result := exec(t, tool, `{"pattern":"*.go"}`)
	payload := decode(t, result)
	if payload["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2\n%s", payload["count"], result.Content)
	}
}

func TestRegisterAll(t *testing.T) {
	registry := agent.NewToolRegistry()
	if err := RegisterAll(registry, setupWorkspace(t)); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	for _, name := range []string{
		"read_file", "write_file", "edit_file", "list_files",
		"grep_search", "code_search", "find_files",
	} {
		if !registry.Has(name) {
			t.Errorf("registry missing %s", name)
		}
	}
}
