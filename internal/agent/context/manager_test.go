package context

import (
	"strings"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

func userMsg(content string) *models.Message {
	return models.NewMessage(models.RoleUser, content)
}

func assistantMsg(content string) *models.Message {
	return models.NewMessage(models.RoleAssistant, content)
}

// buildHistory appends turnCount user/assistant turn pairs with padded
// content so token estimates are meaningful.
func buildHistory(m *Manager, turnCount, padChars int) {
	pad := strings.Repeat("x", padChars)
	for i := 0; i < turnCount; i++ {
		m.Append(userMsg("question " + pad))
		m.Append(assistantMsg("answer " + pad))
	}
}

func TestEstimateMonotonicWithLength(t *testing.T) {
	prev := 0
	for _, n := range []int{0, 1, 10, 100, 1000, 10000} {
		got := EstimateTokens(strings.Repeat("a", n))
		if got < prev {
			t.Fatalf("estimate not monotonic: %d chars -> %d tokens, previous %d", n, got, prev)
		}
		prev = got
	}
}

func TestEnforceWindowNoOpUnderBudget(t *testing.T) {
	m := NewManager(TrimPolicy{MaxContextTokens: 100000})
	buildHistory(m, 3, 100)
	if removed := m.EnforceWindow(); removed != 0 {
		t.Errorf("EnforceWindow removed %d messages under budget", removed)
	}
}

func TestEnforceWindowTrimsOldestTurns(t *testing.T) {
	m := NewManager(TrimPolicy{
		MaxContextTokens:    1000,
		TrimToPercent:       60,
		PreserveRecentTurns: 2,
	})
	buildHistory(m, 10, 200) // well over 1000 estimated tokens

	before := m.Messages()
	removed := m.EnforceWindow()
	if removed == 0 {
		t.Fatal("expected trimming over budget")
	}
	if m.EstimatedTokens() > 1000*60/100 {
		t.Errorf("estimate %d still above target", m.EstimatedTokens())
	}

	// The last two turns (four messages) must be intact.
	after := m.Messages()
	tail := before[len(before)-4:]
	gotTail := after[len(after)-4:]
	for i := range tail {
		if tail[i].ID != gotTail[i].ID || tail[i].Content != gotTail[i].Content {
			t.Errorf("preserved turn message %d altered by trimming", i)
		}
	}

	// Oldest turn should be gone.
	if after[0].ID == before[0].ID && len(after) == len(before) {
		t.Error("oldest turn survived trimming")
	}
}

func TestEnforceWindowPreservesSystemPrefix(t *testing.T) {
	m := NewManager(TrimPolicy{
		MaxContextTokens:    500,
		TrimToPercent:       50,
		PreserveRecentTurns: 1,
	})
	sys := models.NewMessage(models.RoleSystem, "you are a coding agent")
	m.Append(sys)
	buildHistory(m, 8, 200)

	m.EnforceWindow()
	first := m.Messages()[0]
	if first.ID != sys.ID {
		t.Error("system prefix must survive trimming")
	}
}

func TestEnforceWindowKeepsInFlightToolTurns(t *testing.T) {
	m := NewManager(TrimPolicy{
		MaxContextTokens:    400,
		TrimToPercent:       50,
		PreserveRecentTurns: 1,
	})

	// Old turn with an unresolved tool call.
	m.Append(userMsg("run the check " + strings.Repeat("p", 400)))
	pending := assistantMsg("")
	pending.ToolCalls = []models.ToolCall{{ID: "call-1", Name: "run_tests", Input: []byte(`{}`)}}
	m.Append(pending)

	buildHistory(m, 6, 200)

	m.EnforceWindow()
	found := false
	for _, msg := range m.Messages() {
		if msg.ID == pending.ID {
			found = true
		}
	}
	if !found {
		t.Error("turn with unresolved tool call must not be trimmed")
	}
}

func TestPruneToolResponses(t *testing.T) {
	m := NewManager(TrimPolicy{PreserveRecentTurns: 1})

	m.Append(userMsg("look at the files"))
	withResult := models.NewMessage(models.RoleTool, "")
	withResult.ToolResults = []models.ToolResult{{ToolCallID: "c1", Content: strings.Repeat("output", 100)}}
	m.Append(withResult)
	// Matching call so the turn is not in flight.
	caller := assistantMsg("")
	caller.ToolCalls = []models.ToolCall{{ID: "c1", Name: "list_files", Input: []byte(`{}`)}}
	m.Append(caller)

	buildHistory(m, 2, 10)

	cleared := m.PruneToolResponses()
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if got := withResult.ToolResults[0].Content; got != clearedPlaceholder {
		t.Errorf("pruned content = %q, want placeholder", got)
	}

	// Second run is a no-op.
	if cleared := m.PruneToolResponses(); cleared != 0 {
		t.Errorf("second prune cleared %d, want 0", cleared)
	}
}

func TestAggressiveTrimGoesDeeper(t *testing.T) {
	policy := TrimPolicy{
		MaxContextTokens:    2000,
		TrimToPercent:       60,
		PreserveRecentTurns: 6,
	}

	normal := NewManager(policy)
	buildHistory(normal, 12, 300)
	normal.EnforceWindow()

	aggressive := NewManager(policy)
	buildHistory(aggressive, 12, 300)
	aggressive.AggressiveTrim()

	if aggressive.EstimatedTokens() >= normal.EstimatedTokens() {
		t.Errorf("aggressive trim (%d tokens) should cut deeper than normal (%d tokens)",
			aggressive.EstimatedTokens(), normal.EstimatedTokens())
	}
}

func TestSegmentTurns(t *testing.T) {
	msgs := []*models.Message{
		models.NewMessage(models.RoleSystem, "sys"),
		userMsg("one"),
		assistantMsg("re one"),
		userMsg("two"),
		assistantMsg("re two"),
	}
	turns := segmentTurns(msgs)
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3 (system prefix + 2 user turns)", len(turns))
	}
	if turns[0].start != 0 || turns[0].end != 1 {
		t.Errorf("system prefix span = %+v", turns[0])
	}
	if turns[2].start != 3 || turns[2].end != 5 {
		t.Errorf("last turn span = %+v", turns[2])
	}
}
