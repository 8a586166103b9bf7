// handlers.go implements the command logic behind the builders in
// commands.go: engine assembly, terminal approval, and result reporting.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/agent/providers"
	"github.com/strandlabs/strand/internal/agent/routing"
	"github.com/strandlabs/strand/internal/checkpoint"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/tools/files"
	"github.com/strandlabs/strand/pkg/models"
)

type runOptions struct {
	ConfigPath  string
	Workspace   string
	Title       string
	Description string
	Contexts    []string
	AutoApprove bool
	Debug       bool
}

type resumeOptions struct {
	ConfigPath  string
	Workspace   string
	TaskID      string
	Instruction string
	AutoApprove bool
	Debug       bool
}

// runtime bundles everything a task execution needs, with a single Close for
// the parts that hold resources.
type runtime struct {
	cfg      *config.Config
	engine   *agent.Engine
	store    checkpoint.Store
	tracer   *observability.Tracer
	events   *observability.MemoryEventStore
	shutdown func(context.Context) error
}

// printTrajectory dumps the recorded event timeline for a task. Only active
// with --debug.
func (r *runtime) printTrajectory(taskID string) {
	if r.events == nil {
		return
	}
	events, err := r.events.ByTask(taskID)
	if err != nil || len(events) == 0 {
		return
	}
	fmt.Printf("\n%s\n", observability.FormatTrajectory(observability.BuildTrajectory(events)))
}

func (r *runtime) Close(ctx context.Context) {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			slog.Warn("checkpoint store close failed", "error", err)
		}
	}
	if r.shutdown != nil {
		if err := r.shutdown(ctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}
}

// runTask implements the run command logic.
func runTask(ctx context.Context, opts runOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(opts.ConfigPath, opts.Workspace, opts.AutoApprove, opts.Debug)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	contexts, err := loadContextFiles(opts.Contexts)
	if err != nil {
		return err
	}

	title := opts.Title
	if title == "" {
		title = deriveTitle(opts.Description)
	}
	task := models.NewTask(title, opts.Description)

	slog.Info("starting task",
		"task_id", task.ID,
		"title", task.Title,
		"provider", rt.cfg.Providers.Default,
		"workspace", opts.Workspace,
	)

	ctx, span := rt.tracer.Start(ctx, "task.run")
	defer span.End()

	results, err := rt.engine.Run(ctx, task, contexts)
	if err != nil {
		rt.tracer.RecordError(span, err)
		return fmt.Errorf("task execution failed: %w", err)
	}
	rt.printTrajectory(task.ID)
	return reportResults(results)
}

// runResume implements the resume command logic.
func runResume(ctx context.Context, opts resumeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(opts.ConfigPath, opts.Workspace, opts.AutoApprove, opts.Debug)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if rt.store == nil {
		return errors.New("resume requires a checkpoint backend in the configuration")
	}

	snapshot, err := rt.store.Latest(ctx, opts.TaskID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("no checkpoint found for task %s", opts.TaskID)
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	for _, msg := range snapshot.Messages {
		rt.engine.Context().Append(msg)
	}

	description := opts.Instruction
	if description == "" {
		description = "Continue the task from where it left off."
	}
	task := &models.Task{
		ID:          snapshot.TaskID,
		Title:       "resumed task",
		Description: description,
	}

	slog.Info("resuming task",
		"task_id", task.ID,
		"turn", snapshot.Turn,
		"messages", len(snapshot.Messages),
	)

	ctx, span := rt.tracer.Start(ctx, "task.resume")
	defer span.End()

	results, err := rt.engine.Run(ctx, task, nil)
	if err != nil {
		rt.tracer.RecordError(span, err)
		return fmt.Errorf("task execution failed: %w", err)
	}
	rt.printTrajectory(task.ID)
	return reportResults(results)
}

// runConfigShow prints the effective configuration.
func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

// runConfigValidate loads and validates a configuration file.
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if configPath == "" {
		return errors.New("config validate requires --config")
	}
	if _, err := config.Load(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration valid\n", configPath)
	return nil
}

// buildRuntime assembles the engine and its collaborators from configuration.
func buildRuntime(configPath, workspace string, autoApprove, debug bool) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	registry := agent.NewToolRegistry()
	if err := files.RegisterAll(registry, files.Config{Workspace: workspace}); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	var prompter agent.Prompter
	if autoApprove {
		prompter = approveAll{}
	} else {
		prompter = newTerminalPrompter()
	}
	gate := agent.NewPermissionGate(&cfg.Permissions, prompter)

	router, err := routing.NewRouter(cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}

	store, err := buildCheckpointStore(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics()
	tracer, shutdown := observability.NewTracer(cfg.Tracing)

	engineOpts := []agent.EngineOption{
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
		agent.WithTracer(tracer),
		agent.WithDispatchConfig(&cfg.Dispatch),
	}
	if store != nil {
		engineOpts = append(engineOpts, agent.WithCheckpointer(store))
	}

	var events *observability.MemoryEventStore
	if debug {
		events = observability.NewMemoryEventStore(0)
		engineOpts = append(engineOpts, agent.WithRecorder(observability.NewRecorder(events, logger)))
	}

	engine := agent.NewEngine(
		provider,
		registry,
		gate,
		router,
		cfg.Context,
		cfg.LoopDetection,
		&cfg.Engine,
		engineOpts...,
	)

	return &runtime{
		cfg:      cfg,
		engine:   engine,
		store:    store,
		tracer:   tracer,
		events:   events,
		shutdown: shutdown,
	}, nil
}

// loadConfig reads the config file, or returns defaults when no path is
// given.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// buildProvider constructs the LLM provider named by the configuration.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.Providers.Default {
	case "anthropic":
		pc := cfg.Providers.Anthropic
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
		})
	case "openai":
		pc := cfg.Providers.OpenAI
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Providers.Default)
	}
}

// buildCheckpointStore constructs the configured checkpoint backend, or nil
// when checkpointing is disabled.
func buildCheckpointStore(cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	case "sqlite":
		store, err := checkpoint.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// loadContextFiles reads each path into a ContextItem named after the file.
func loadContextFiles(paths []string) ([]models.ContextItem, error) {
	var items []models.ContextItem
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read context file: %w", err)
		}
		items = append(items, models.ContextItem{
			Name:    filepath.Base(path),
			Content: string(data),
		})
	}
	return items, nil
}

// reportResults prints the task outcome and returns an error for anything
// other than success, so scripts get a nonzero exit.
func reportResults(results *models.TaskResults) error {
	fmt.Printf("\nOutcome: %s (%d turns)\n", results.Outcome, results.TurnsExecuted)
	if results.FinalResponse != "" {
		fmt.Printf("\n%s\n", results.FinalResponse)
	}
	if len(results.ModifiedFiles) > 0 {
		fmt.Printf("\nModified files:\n")
		for _, f := range results.ModifiedFiles {
			fmt.Printf("  %s\n", f)
		}
	}
	if len(results.ToolsExecuted) > 0 {
		fmt.Printf("\nTools executed: %s\n", strings.Join(results.ToolsExecuted, ", "))
	}
	for _, w := range results.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	if results.Outcome.Kind != models.OutcomeSuccess {
		return fmt.Errorf("task did not complete: %s", results.Outcome)
	}
	return nil
}

// approveAll is the Prompter used with --yes.
type approveAll struct{}

func (approveAll) RequestApproval(ctx context.Context, call models.ToolCall) (agent.PromptOutcome, error) {
	return agent.PromptApproved, nil
}

// terminalPrompter asks for tool approval on the terminal. Reads happen on a
// goroutine so a cancelled context does not leave the command hanging on
// stdin.
type terminalPrompter struct {
	in *bufio.Reader
}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(os.Stdin)}
}

func (p *terminalPrompter) RequestApproval(ctx context.Context, call models.ToolCall) (agent.PromptOutcome, error) {
	fmt.Printf("\nTool call: %s\n", call.Name)
	if len(call.Input) > 0 {
		fmt.Printf("Input: %s\n", string(call.Input))
	}
	fmt.Print("Approve? [y/N] ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return agent.PromptCancelled, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return agent.PromptDenied, nil
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return agent.PromptApproved, nil
		default:
			return agent.PromptDenied, nil
		}
	}
}

// joinArgs collapses the positional args into one task description.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// deriveTitle takes the first line of the description, truncated for display.
func deriveTitle(description string) string {
	title := description
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(title)
	const maxTitle = 60
	if len(title) > maxTitle {
		title = title[:maxTitle] + "..."
	}
	return title
}
