// Package config holds the top-level configuration for the strand engine.
// Configuration is loaded from a single YAML file with environment variable
// expansion; validation is fatal at load time so a misconfigured engine
// never starts.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/internal/agent"
	agentcontext "github.com/strandlabs/strand/internal/agent/context"
	"github.com/strandlabs/strand/internal/agent/loopdetect"
	"github.com/strandlabs/strand/internal/agent/routing"
	"github.com/strandlabs/strand/internal/observability"
)

// Config is the root configuration for a strand process.
type Config struct {
	Engine        agent.EngineConfig        `yaml:"engine"`
	Router        routing.Config            `yaml:"router"`
	Context       agentcontext.TrimPolicy   `yaml:"context"`
	Dispatch      agent.DispatchConfig      `yaml:"dispatch"`
	LoopDetection loopdetect.Config         `yaml:"loop_detection"`
	Permissions   agent.PermissionPolicy    `yaml:"permissions"`
	Providers     ProvidersConfig           `yaml:"providers"`
	Checkpoint    CheckpointConfig          `yaml:"checkpoint"`
	Logging       observability.LogConfig   `yaml:"logging"`
	Tracing       observability.TraceConfig `yaml:"tracing"`
}

// ProvidersConfig selects and configures LLM backends.
type ProvidersConfig struct {
	// Default names the provider used for task execution: "anthropic" or
	// "openai".
	Default string `yaml:"default"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

// ProviderConfig holds per-provider connection settings.
type ProviderConfig struct {
	// APIKey supports ${ENV_VAR} expansion in the config file.
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxRetries   int    `yaml:"max_retries"`
}

// CheckpointConfig configures turn-state persistence.
type CheckpointConfig struct {
	// Backend is "sqlite", "memory", or empty to disable checkpointing.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Ignored for other backends.
	Path string `yaml:"path"`
}

// Default returns a complete configuration with every section at its
// default.
func Default() *Config {
	return &Config{
		Engine:        *agent.DefaultEngineConfig(),
		Router:        routing.DefaultConfig(),
		Context:       agentcontext.DefaultTrimPolicy(),
		Dispatch:      *agent.DefaultDispatchConfig(),
		LoopDetection: loopdetect.DefaultConfig(),
		Permissions:   *agent.DefaultPermissionPolicy(),
		Providers: ProvidersConfig{
			Default: "anthropic",
		},
		Checkpoint: CheckpointConfig{
			Backend: "sqlite",
			Path:    "strand.db",
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: observability.TraceConfig{
			ServiceName:  "strand",
			SamplingRate: 1.0,
		},
	}
}

// Load reads, parses, and validates the configuration file. Environment
// variables in the file are expanded before parsing. Unknown fields and
// invalid values are load-time failures.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "strand"
	}
	if cfg.Tracing.SamplingRate <= 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate checks every section that can fail fast. Router validation is
// delegated; sections with self-healing defaults are not re-checked here.
func (c *Config) Validate() error {
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}

	switch c.Providers.Default {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("providers: unknown default provider %q", c.Providers.Default)
	}

	switch c.Checkpoint.Backend {
	case "", "memory":
	case "sqlite":
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint: sqlite backend requires a path")
		}
	default:
		return fmt.Errorf("checkpoint: unknown backend %q", c.Checkpoint.Backend)
	}

	return nil
}
