package observability

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemoryEventStoreRecordAndQuery(t *testing.T) {
	store := NewMemoryEventStore(0)

	base := time.Now()
	events := []*Event{
		{Type: EventTypeTaskStart, TaskID: "t1", Timestamp: base},
		{Type: EventTypeToolCall, TaskID: "t1", Name: "read_file", Timestamp: base.Add(time.Second)},
		{Type: EventTypeToolCall, TaskID: "t2", Name: "write_file", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.Record(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	byTask, err := store.ByTask("t1")
	if err != nil {
		t.Fatalf("by task: %v", err)
	}
	if len(byTask) != 2 {
		t.Fatalf("got %d events for t1, want 2", len(byTask))
	}
	if byTask[0].Type != EventTypeTaskStart {
		t.Errorf("events not sorted by timestamp: first is %s", byTask[0].Type)
	}

	byType, err := store.ByType(EventTypeToolCall, 1)
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if len(byType) != 1 {
		t.Fatalf("got %d events, want 1", len(byType))
	}
	if byType[0].Name != "write_file" {
		t.Errorf("limit did not keep most recent: got %s", byType[0].Name)
	}
}

func TestMemoryEventStoreRejectsNil(t *testing.T) {
	store := NewMemoryEventStore(0)
	if err := store.Record(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestMemoryEventStoreFillsDefaults(t *testing.T) {
	store := NewMemoryEventStore(0)
	event := &Event{Type: EventTypeToolCall, TaskID: "t1"}
	if err := store.Record(event); err != nil {
		t.Fatalf("record: %v", err)
	}
	if event.ID == "" {
		t.Error("ID not generated")
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestMemoryEventStoreEviction(t *testing.T) {
	store := NewMemoryEventStore(10)

	base := time.Now()
	for i := 0; i < 15; i++ {
		err := store.Record(&Event{
			Type:      EventTypeToolCall,
			TaskID:    "t1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	events, err := store.ByTask("t1")
	if err != nil {
		t.Fatalf("by task: %v", err)
	}
	if len(events) > 10 {
		t.Errorf("store holds %d events, cap is 10", len(events))
	}
	// Oldest entries go first.
	for _, e := range events {
		if e.Timestamp.Before(base.Add(time.Second)) {
			t.Errorf("oldest event survived eviction: %v", e.Timestamp)
		}
	}
}

func TestMemoryEventStorePrune(t *testing.T) {
	store := NewMemoryEventStore(0)

	old := &Event{Type: EventTypeToolCall, TaskID: "t1", Timestamp: time.Now().Add(-2 * time.Hour)}
	fresh := &Event{Type: EventTypeToolCall, TaskID: "t1", Timestamp: time.Now()}
	for _, e := range []*Event{old, fresh} {
		if err := store.Record(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	pruned, err := store.Prune(time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	events, _ := store.ByTask("t1")
	if len(events) != 1 {
		t.Errorf("remaining = %d, want 1", len(events))
	}
}

func TestRecorderTakesCorrelationFromContext(t *testing.T) {
	store := NewMemoryEventStore(0)
	recorder := NewRecorder(store, nil)

	ctx := context.WithValue(context.Background(), TaskIDKey, "task-7")
	ctx = context.WithValue(ctx, TurnKey, 4)
	recorder.Record(ctx, EventTypeToolCall, "read_file", map[string]any{"path": "a.go"})

	events, err := store.ByTask("task-7")
	if err != nil {
		t.Fatalf("by task: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Turn != 4 {
		t.Errorf("turn = %d, want 4", e.Turn)
	}
	if e.Data["path"] != "a.go" {
		t.Errorf("data not preserved: %v", e.Data)
	}
}

func TestRecorderErrorEvents(t *testing.T) {
	store := NewMemoryEventStore(0)
	recorder := NewRecorder(store, nil)

	ctx := context.WithValue(context.Background(), TaskIDKey, "task-8")
	recorder.RecordError(ctx, EventTypeProviderError, "claude-sonnet-4", context.DeadlineExceeded)
	recorder.RecordError(ctx, EventTypeProviderError, "claude-sonnet-4", nil)

	events, _ := store.ByTask("task-8")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (nil error discarded)", len(events))
	}
	if events[0].Error == "" {
		t.Error("error field empty")
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	r.Record(ctx, EventTypeToolCall, "read_file", nil)
	r.RecordError(ctx, EventTypeProviderError, "m", context.Canceled)
	r.RecordDuration(ctx, EventTypeTurnEnd, "standard", time.Second, nil)
}

func TestBuildTrajectory(t *testing.T) {
	base := time.Now()
	events := []*Event{
		{Type: EventTypeTaskEnd, TaskID: "t1", Turn: 2, Timestamp: base.Add(3 * time.Second)},
		{Type: EventTypeTaskStart, TaskID: "t1", Timestamp: base},
		{Type: EventTypeProviderCall, TaskID: "t1", Turn: 1, Timestamp: base.Add(time.Second)},
		{Type: EventTypeToolError, TaskID: "t1", Turn: 1, Error: "boom", Timestamp: base.Add(2 * time.Second)},
	}

	trajectory := BuildTrajectory(events)
	if trajectory.TaskID != "t1" {
		t.Errorf("task ID = %q, want t1", trajectory.TaskID)
	}
	if trajectory.Events[0].Type != EventTypeTaskStart {
		t.Error("events not sorted by timestamp")
	}
	if trajectory.Duration != 3*time.Second {
		t.Errorf("duration = %v, want 3s", trajectory.Duration)
	}

	s := trajectory.Summary
	if s.TotalEvents != 4 || s.ErrorCount != 1 || s.ToolCalls != 1 || s.ProviderCalls != 1 || s.Turns != 2 {
		t.Errorf("summary = %+v", s)
	}
}

func TestBuildTrajectoryEmpty(t *testing.T) {
	trajectory := BuildTrajectory(nil)
	if trajectory.Summary == nil || trajectory.Summary.TotalEvents != 0 {
		t.Errorf("empty trajectory summary = %+v", trajectory.Summary)
	}
}

func TestFormatTrajectory(t *testing.T) {
	base := time.Now()
	trajectory := BuildTrajectory([]*Event{
		{Type: EventTypeTaskStart, TaskID: "t1", Name: "fix tests", Timestamp: base},
		{Type: EventTypeToolError, TaskID: "t1", Turn: 1, Name: "edit_file", Error: "no match", Timestamp: base.Add(time.Second)},
	})

	out := FormatTrajectory(trajectory)
	for _, want := range []string{"t1", "fix tests", "edit_file", "no match", "turn 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if got := FormatTrajectory(nil); got != "No events found" {
		t.Errorf("nil trajectory output = %q", got)
	}
}
