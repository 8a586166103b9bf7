package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is a named operation the model can request. Concrete implementations
// (file I/O, shell, search) live outside the engine; the engine only
// dispatches against this interface.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string

	// Description returns the description shown to the model.
	Description() string

	// Schema returns the JSON schema for the tool's arguments, or nil if
	// the tool accepts arbitrary input.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON arguments.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the raw output of a tool execution before it is tied to a
// tool call ID.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
	// ModifiedFile names the file a mutating tool touched, when known.
	ModifiedFile string `json:"modified_file,omitempty"`
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Registered schemas are compiled once and used to validate
// arguments before execution. The registry is shared across calls within
// and across turns; parallel dispatch may invoke it concurrently.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any existing tool of the same name. A
// schema that fails to compile is an error: a registry with unvalidatable
// tools would fail at dispatch time instead of startup.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		resource := fmt.Sprintf("tool://%s/schema.json", name)
		if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tool %s: invalid schema: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool %s: invalid schema: %w", name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether a tool is registered.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Execute runs a tool by name with the given JSON arguments. Lookup
// failures and validation failures come back as error results, not hard
// errors: the model sees them as tool output and can correct course.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	if schema != nil {
		if err := validateParams(schema, params); err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("invalid arguments for %s: %v", name, err),
				IsError: true,
			}, nil
		}
	}

	return tool.Execute(ctx, params)
}

func validateParams(schema *jsonschema.Schema, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var value any
	if err := json.Unmarshal(params, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

// AsLLMTools returns the registered tools for passing to a provider, sorted
// by name so identical registries produce identical requests.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// FuncTool adapts a function into a Tool. Useful for tests and small
// built-ins.
type FuncTool struct {
	ToolName    string
	ToolDesc    string
	InputSchema json.RawMessage
	Fn          func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (t *FuncTool) Name() string            { return t.ToolName }
func (t *FuncTool) Description() string     { return t.ToolDesc }
func (t *FuncTool) Schema() json.RawMessage { return t.InputSchema }
func (t *FuncTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return t.Fn(ctx, params)
}
