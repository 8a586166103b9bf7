package models

import (
	"strings"
	"testing"
)

func TestOutcomeTerminal(t *testing.T) {
	if UnknownOutcome().Terminal() {
		t.Error("unknown outcome should not be terminal")
	}
	if !SuccessOutcome().Terminal() {
		t.Error("success outcome should be terminal")
	}
	if !TurnLimitReached(10, 10).Terminal() {
		t.Error("turn limit outcome should be terminal")
	}
}

func TestOutcomeString(t *testing.T) {
	s := TurnLimitReached(50, 50).String()
	if !strings.Contains(s, "50") {
		t.Errorf("turn limit string should name the ceiling, got %q", s)
	}

	s = ToolLoopLimitReached(20, 21).String()
	if !strings.Contains(s, "20") || !strings.Contains(s, "21") {
		t.Errorf("tool loop string should name max and streak, got %q", s)
	}

	if got := SuccessOutcome().String(); got != "success" {
		t.Errorf("String() = %q, want success", got)
	}
}

func TestTaskResultsDeduplication(t *testing.T) {
	r := &TaskResults{}

	r.RecordTool("read_file")
	r.RecordTool("write_file")
	r.RecordTool("read_file")
	if len(r.ToolsExecuted) != 2 {
		t.Errorf("ToolsExecuted = %v, want 2 unique entries", r.ToolsExecuted)
	}

	r.AddWarning("budget low")
	r.AddWarning("budget low")
	r.AddWarning("other")
	if len(r.Warnings) != 2 {
		t.Errorf("Warnings = %v, want consecutive duplicates collapsed", r.Warnings)
	}

	r.RecordModifiedFile("main.go")
	r.RecordModifiedFile("main.go")
	r.RecordModifiedFile("")
	if len(r.ModifiedFiles) != 1 {
		t.Errorf("ModifiedFiles = %v, want single entry", r.ModifiedFiles)
	}
}
