package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType categorizes trajectory events for filtering and display.
type EventType string

const (
	EventTypeTaskStart     EventType = "task.start"
	EventTypeTaskEnd       EventType = "task.end"
	EventTypeTurnEnd       EventType = "turn.end"
	EventTypeProviderCall  EventType = "provider.call"
	EventTypeProviderError EventType = "provider.error"
	EventTypeToolCall      EventType = "tool.call"
	EventTypeToolError     EventType = "tool.error"
	EventTypeContextTrim   EventType = "context.trim"
	EventTypeLoopGuard     EventType = "loop.guard"
	EventTypeCheckpoint    EventType = "checkpoint"
)

// Event is a single entry in a task trajectory.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id,omitempty"`
	Turn      int            `json:"turn,omitempty"`
	Name      string         `json:"name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Duration  time.Duration  `json:"duration_ns,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// EventStore stores and retrieves trajectory events.
type EventStore interface {
	// Record stores an event.
	Record(event *Event) error

	// ByTask returns all events for a task, sorted by timestamp.
	ByTask(taskID string) ([]*Event, error)

	// ByType returns the most recent events of a type.
	ByType(eventType EventType, limit int) ([]*Event, error)

	// Prune removes events older than the given duration and reports how
	// many were removed.
	Prune(olderThan time.Duration) (int, error)
}

// MemoryEventStore is an in-memory EventStore with bounded size. When full,
// the oldest tenth of events is evicted.
type MemoryEventStore struct {
	mu      sync.RWMutex
	events  map[string]*Event
	byTask  map[string][]string
	maxSize int
}

// NewMemoryEventStore creates an in-memory event store. maxSize <= 0 uses
// the default of 10000 events.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEventStore{
		events:  make(map[string]*Event),
		byTask:  make(map[string][]string),
		maxSize: maxSize,
	}
}

func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		s.evictOldest()
	}

	s.events[event.ID] = event
	if event.TaskID != "" {
		s.byTask[event.TaskID] = append(s.byTask[event.TaskID], event.ID)
	}
	return nil
}

func (s *MemoryEventStore) ByTask(taskID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTask[taskID]
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (s *MemoryEventStore) ByType(eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	// Most recent first.
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryEventStore) Prune(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	pruned := 0
	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			pruned++
		}
	}

	for taskID, ids := range s.byTask {
		var remaining []string
		for _, id := range ids {
			if _, ok := s.events[id]; ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			delete(s.byTask, taskID)
		} else {
			s.byTask[taskID] = remaining
		}
	}
	return pruned, nil
}

func (s *MemoryEventStore) evictOldest() {
	toRemove := s.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}

	events := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	for i := 0; i < toRemove && i < len(events); i++ {
		delete(s.events, events[i].ID)
	}
}

// Recorder writes trajectory events, filling in correlation fields from
// context. A nil Recorder discards everything, so callers never need to
// guard their calls.
type Recorder struct {
	store  EventStore
	logger *Logger
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store EventStore, logger *Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record adds an event, taking task ID and turn from the context.
func (r *Recorder) Record(ctx context.Context, eventType EventType, name string, data map[string]any) {
	if r == nil || r.store == nil {
		return
	}
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		TaskID:    taskIDFromContext(ctx),
		Turn:      turnFromContext(ctx),
		Name:      name,
		Data:      data,
	}
	if err := r.store.Record(event); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "event record failed", "error", err)
	}
}

// RecordError adds an error event.
func (r *Recorder) RecordError(ctx context.Context, eventType EventType, name string, cause error) {
	if r == nil || r.store == nil || cause == nil {
		return
	}
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		TaskID:    taskIDFromContext(ctx),
		Turn:      turnFromContext(ctx),
		Name:      name,
		Error:     cause.Error(),
	}
	if err := r.store.Record(event); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "event record failed", "error", err)
	}
}

// RecordDuration adds an event with a measured duration.
func (r *Recorder) RecordDuration(ctx context.Context, eventType EventType, name string, duration time.Duration, data map[string]any) {
	if r == nil || r.store == nil {
		return
	}
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		TaskID:    taskIDFromContext(ctx),
		Turn:      turnFromContext(ctx),
		Name:      name,
		Data:      data,
		Duration:  duration,
	}
	if err := r.store.Record(event); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "event record failed", "error", err)
	}
}

// Trajectory is the ordered event history of one task.
type Trajectory struct {
	TaskID    string             `json:"task_id"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Duration  time.Duration      `json:"duration"`
	Events    []*Event           `json:"events"`
	Summary   *TrajectorySummary `json:"summary"`
}

// TrajectorySummary aggregates a trajectory for display.
type TrajectorySummary struct {
	TotalEvents   int `json:"total_events"`
	ErrorCount    int `json:"error_count"`
	ToolCalls     int `json:"tool_calls"`
	ProviderCalls int `json:"provider_calls"`
	Turns         int `json:"turns"`
}

// BuildTrajectory assembles a trajectory from events.
func BuildTrajectory(events []*Event) *Trajectory {
	if len(events) == 0 {
		return &Trajectory{Summary: &TrajectorySummary{}}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	t := &Trajectory{
		Events:    events,
		StartTime: events[0].Timestamp,
		EndTime:   events[len(events)-1].Timestamp,
		Duration:  events[len(events)-1].Timestamp.Sub(events[0].Timestamp),
		Summary:   &TrajectorySummary{TotalEvents: len(events)},
	}

	for _, e := range events {
		if e.TaskID != "" && t.TaskID == "" {
			t.TaskID = e.TaskID
		}
		if e.Error != "" {
			t.Summary.ErrorCount++
		}
		if e.Turn > t.Summary.Turns {
			t.Summary.Turns = e.Turn
		}
		switch e.Type {
		case EventTypeToolCall, EventTypeToolError:
			t.Summary.ToolCalls++
		case EventTypeProviderCall:
			t.Summary.ProviderCalls++
		}
	}
	return t
}

// FormatTrajectory renders a trajectory for terminal display.
func FormatTrajectory(t *Trajectory) string {
	if t == nil || len(t.Events) == 0 {
		return "No events found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Trajectory for task %s ===\n", t.TaskID)
	fmt.Fprintf(&b, "Duration: %v over %d turns\n", t.Duration, t.Summary.Turns)
	fmt.Fprintf(&b, "Events: %d (errors: %d, tool calls: %d, provider calls: %d)\n\n",
		t.Summary.TotalEvents, t.Summary.ErrorCount, t.Summary.ToolCalls, t.Summary.ProviderCalls)

	for i, e := range t.Events {
		prefix := "├─"
		if i == len(t.Events)-1 {
			prefix = "└─"
		}
		fmt.Fprintf(&b, "%s [%s] %s", prefix, e.Timestamp.Format("15:04:05.000"), e.Type)
		if e.Name != "" {
			fmt.Fprintf(&b, ": %s", e.Name)
		}
		if e.Turn > 0 {
			fmt.Fprintf(&b, " (turn %d)", e.Turn)
		}
		b.WriteByte('\n')
		if e.Duration > 0 {
			fmt.Fprintf(&b, "   duration: %v\n", e.Duration)
		}
		if e.Error != "" {
			fmt.Fprintf(&b, "   error: %s\n", e.Error)
		}
	}
	return b.String()
}

func taskIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(TaskIDKey).(string); ok {
		return id
	}
	return ""
}

func turnFromContext(ctx context.Context) int {
	if turn, ok := ctx.Value(TurnKey).(int); ok {
		return turn
	}
	return 0
}

var (
	eventIDMu      sync.Mutex
	eventIDCounter int64
)

func generateEventID() string {
	eventIDMu.Lock()
	defer eventIDMu.Unlock()
	eventIDCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter)
}
