// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder function creates a command and wires
// it to its handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command that executes a task through the
// engine. This is the primary command.
func buildRunCmd() *cobra.Command {
	var (
		configPath  string
		workspace   string
		title       string
		contexts    []string
		autoApprove bool
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "run <task description>",
		Short: "Execute a coding task",
		Long: `Execute a coding task through the turn loop until it completes or a
safety limit trips.

The engine will:
1. Load configuration from the specified file (or built-in defaults)
2. Connect to the configured LLM provider (Anthropic, OpenAI)
3. Register workspace tools (read, write, edit, list, search)
4. Run turns until the model produces a final answer

Mutating tools prompt for approval on the terminal unless --yes is set.`,
		Example: `  # Run a task in the current directory
  strand run "add input validation to the login handler"

  # Run against another workspace with a config file
  strand run "fix the flaky TestRetry" --workspace ~/src/proj --config strand.yaml

  # Unattended: auto-approve writes and edits
  strand run "update the copyright year in all headers" --yes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), runOptions{
				ConfigPath:  configPath,
				Workspace:   workspace,
				Title:       title,
				Description: joinArgs(args),
				Contexts:    contexts,
				AutoApprove: autoApprove,
				Debug:       debug,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default: built-in defaults)")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".",
		"Workspace directory the tools operate in")
	cmd.Flags().StringVarP(&title, "title", "t", "",
		"Short task title (default: derived from the description)")
	cmd.Flags().StringArrayVar(&contexts, "context", nil,
		"File injected as read-only context at task start (repeatable)")
	cmd.Flags().BoolVarP(&autoApprove, "yes", "y", false,
		"Approve all tool calls without prompting")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildResumeCmd creates the "resume" command that continues a checkpointed
// task.
func buildResumeCmd() *cobra.Command {
	var (
		configPath  string
		workspace   string
		instruction string
		autoApprove bool
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a checkpointed task",
		Long: `Resume a task from its latest checkpoint. The conversation history is
restored from the checkpoint store and the engine continues from where the
task was interrupted.

Requires a checkpoint backend other than "memory" in the configuration.`,
		Example: `  # Continue an interrupted task
  strand resume 6f1c9a3e-4b2d-4f7a-9c1e-8d5b2a7e0f34

  # Continue with extra direction
  strand resume 6f1c9a3e-4b2d-4f7a-9c1e-8d5b2a7e0f34 --instruction "prefer table-driven tests"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), resumeOptions{
				ConfigPath:  configPath,
				Workspace:   workspace,
				TaskID:      args[0],
				Instruction: instruction,
				AutoApprove: autoApprove,
				Debug:       debug,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default: built-in defaults)")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".",
		"Workspace directory the tools operate in")
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "",
		"Additional instruction appended when resuming")
	cmd.Flags().BoolVarP(&autoApprove, "yes", "y", false,
		"Approve all tool calls without prompting")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigShowCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
