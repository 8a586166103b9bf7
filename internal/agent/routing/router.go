// Package routing classifies incoming task text into one of five task
// classes and maps each class to a model and execution budget. The
// classifier is a pure function of its input text and configuration and
// always yields identical decisions for identical inputs.
package routing

import (
	"fmt"

	"github.com/strandlabs/strand/pkg/models"
)

// Config drives the heuristic classifier and the per-class model table.
type Config struct {
	ShortLengthThreshold int `yaml:"short_length_threshold"`
	LongLengthThreshold  int `yaml:"long_length_threshold"`

	// Model IDs per task class. Every entry must be non-empty.
	SimpleModel         string `yaml:"simple_model"`
	StandardModel       string `yaml:"standard_model"`
	ComplexModel        string `yaml:"complex_model"`
	CodegenHeavyModel   string `yaml:"codegen_heavy_model"`
	RetrievalHeavyModel string `yaml:"retrieval_heavy_model"`

	// Token budgets per class. Zero falls back to defaults.
	SimpleMaxTokens   int `yaml:"simple_max_tokens"`
	StandardMaxTokens int `yaml:"standard_max_tokens"`
	ComplexMaxTokens  int `yaml:"complex_max_tokens"`

	// MaxParallelTools caps concurrent read-only tool execution.
	MaxParallelTools int `yaml:"max_parallel_tools"`
}

// DefaultConfig returns the routing defaults used when no config file
// overrides them.
func DefaultConfig() Config {
	return Config{
		ShortLengthThreshold: 120,
		LongLengthThreshold:  1200,
		SimpleModel:          "claude-3-5-haiku-latest",
		StandardModel:        "claude-sonnet-4-20250514",
		ComplexModel:         "claude-opus-4-20250514",
		CodegenHeavyModel:    "claude-sonnet-4-20250514",
		RetrievalHeavyModel:  "claude-sonnet-4-20250514",
		SimpleMaxTokens:      4096,
		StandardMaxTokens:    8192,
		ComplexMaxTokens:     16384,
		MaxParallelTools:     5,
	}
}

// Validate rejects configurations that would make classification
// ambiguous or leave a class without a model.
func (c Config) Validate() error {
	if c.ShortLengthThreshold <= 0 {
		return fmt.Errorf("routing: short_length_threshold must be positive, got %d", c.ShortLengthThreshold)
	}
	if c.LongLengthThreshold <= c.ShortLengthThreshold {
		return fmt.Errorf("routing: long_length_threshold (%d) must exceed short_length_threshold (%d)",
			c.LongLengthThreshold, c.ShortLengthThreshold)
	}
	for class, model := range map[string]string{
		"simple_model":          c.SimpleModel,
		"standard_model":        c.StandardModel,
		"complex_model":         c.ComplexModel,
		"codegen_heavy_model":   c.CodegenHeavyModel,
		"retrieval_heavy_model": c.RetrievalHeavyModel,
	} {
		if model == "" {
			return fmt.Errorf("routing: %s must not be empty", class)
		}
	}
	return nil
}

// Router maps task text to a RouterDecision.
type Router struct {
	config Config
}

// NewRouter validates the config before constructing the router. Invalid
// configuration is fatal at load time, not at classification time.
func NewRouter(config Config) (*Router, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.SimpleMaxTokens <= 0 {
		config.SimpleMaxTokens = 4096
	}
	if config.StandardMaxTokens <= 0 {
		config.StandardMaxTokens = 8192
	}
	if config.ComplexMaxTokens <= 0 {
		config.ComplexMaxTokens = 16384
	}
	if config.MaxParallelTools <= 0 {
		config.MaxParallelTools = 5
	}
	return &Router{config: config}, nil
}

// Classify inspects the task text and current history length and returns
// the class, model, and budgets for the next completion request.
func (r *Router) Classify(text string, historyLen int) models.RouterDecision {
	switch classify(text, historyLen, r.config) {
	case decisionCodegen:
		return r.decision(models.ClassCodegenHeavy, r.config.CodegenHeavyModel, r.config.ComplexMaxTokens)
	case decisionRetrieval:
		return r.decision(models.ClassRetrievalHeavy, r.config.RetrievalHeavyModel, r.config.StandardMaxTokens)
	case decisionComplex:
		return r.decision(models.ClassComplex, r.config.ComplexModel, r.config.ComplexMaxTokens)
	case decisionSimple:
		return r.decision(models.ClassSimple, r.config.SimpleModel, r.config.SimpleMaxTokens)
	default:
		return r.decision(models.ClassStandard, r.config.StandardModel, r.config.StandardMaxTokens)
	}
}

func (r *Router) decision(class models.TaskClass, model string, maxTokens int) models.RouterDecision {
	return models.RouterDecision{
		Class:            class,
		Model:            model,
		MaxTokens:        maxTokens,
		MaxParallelTools: r.config.MaxParallelTools,
	}
}
