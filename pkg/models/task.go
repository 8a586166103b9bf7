package models

import (
	"time"

	"github.com/google/uuid"
)

// Task is one user request. A task spans one or more turns until the engine
// resolves a terminal TaskOutcome.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Instructions []string `json:"instructions,omitempty"`
}

// NewTask creates a task with a generated ID.
func NewTask(title, description string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
	}
}

// ContextItem is auxiliary read-only material injected at task start.
type ContextItem struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// TaskClass is the complexity class assigned by the router.
type TaskClass string

const (
	ClassSimple         TaskClass = "simple"
	ClassStandard       TaskClass = "standard"
	ClassComplex        TaskClass = "complex"
	ClassCodegenHeavy   TaskClass = "codegen_heavy"
	ClassRetrievalHeavy TaskClass = "retrieval_heavy"
)

// RouterDecision is the classifier output: a complexity class, the model to
// use, and an optional resource budget.
type RouterDecision struct {
	Class            TaskClass `json:"class"`
	Model            string    `json:"model"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	MaxParallelTools int       `json:"max_parallel_tools,omitempty"`
}

// TaskResults aggregates everything a completed task produced.
type TaskResults struct {
	TaskID        string          `json:"task_id"`
	Outcome       TaskOutcome     `json:"outcome"`
	FinalResponse string          `json:"final_response,omitempty"`
	ModifiedFiles []string        `json:"modified_files,omitempty"`
	ToolsExecuted []string        `json:"tools_executed,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	TurnDurations []time.Duration `json:"turn_durations,omitempty"`
	TurnsExecuted int             `json:"turns_executed"`
}

// AddWarning appends a warning, skipping consecutive duplicates.
func (r *TaskResults) AddWarning(warning string) {
	if n := len(r.Warnings); n > 0 && r.Warnings[n-1] == warning {
		return
	}
	r.Warnings = append(r.Warnings, warning)
}

// RecordTool notes that a tool executed, keeping first-seen order without
// duplicates.
func (r *TaskResults) RecordTool(name string) {
	for _, t := range r.ToolsExecuted {
		if t == name {
			return
		}
	}
	r.ToolsExecuted = append(r.ToolsExecuted, name)
}

// RecordModifiedFile notes a file touched by a mutating tool call.
func (r *TaskResults) RecordModifiedFile(path string) {
	if path == "" {
		return
	}
	for _, f := range r.ModifiedFiles {
		if f == path {
			return
		}
	}
	r.ModifiedFiles = append(r.ModifiedFiles, path)
}
