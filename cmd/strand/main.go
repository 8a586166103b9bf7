// Package main provides the strand CLI: run a coding task through the turn
// execution engine against a workspace directory.
//
// Basic usage:
//
//	strand run "fix the failing test in pkg/parser" --workspace .
//
// Configuration comes from a YAML file (default: strand.yaml). API keys can
// be provided via environment variables referenced from the config file:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand - autonomous coding task engine",
		Long: `Strand executes coding tasks through a turn-based agent loop:
classify the task, pick a model, stream the response, dispatch tool calls,
and repeat until the task completes or a safety limit trips.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
