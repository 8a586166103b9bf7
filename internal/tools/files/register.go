package files

import (
	"github.com/strandlabs/strand/internal/agent"
)

// RegisterAll registers the built-in workspace tools on the registry.
func RegisterAll(registry *agent.ToolRegistry, cfg Config) error {
	tools := []agent.Tool{
		NewReadTool(cfg),
		NewWriteTool(cfg),
		NewEditTool(cfg),
		NewListTool(cfg),
		NewGrepTool(cfg),
		NewCodeSearchTool(cfg),
		NewFindTool(cfg),
	}
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
