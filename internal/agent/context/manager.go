// Package context manages the engine's conversation history: an ordered,
// append-only message log with a token budget enforced by trimming old
// turns and pruning superseded tool results.
package context

import (
	"sync"

	"github.com/strandlabs/strand/pkg/models"
)

// TrimPolicy bounds the conversation's token footprint.
type TrimPolicy struct {
	// MaxContextTokens is the estimated-token ceiling. Default: 90000.
	MaxContextTokens int `yaml:"max_context_tokens" json:"max_context_tokens"`

	// TrimToPercent is the target occupancy after trimming, as a
	// percentage of MaxContextTokens. Default: 60.
	TrimToPercent int `yaml:"trim_to_percent" json:"trim_to_percent"`

	// PreserveRecentTurns is the number of most recent turns trimming
	// never touches. Default: 6.
	PreserveRecentTurns int `yaml:"preserve_recent_turns" json:"preserve_recent_turns"`
}

// DefaultTrimPolicy returns the default budget.
func DefaultTrimPolicy() TrimPolicy {
	return TrimPolicy{
		MaxContextTokens:    90000,
		TrimToPercent:       60,
		PreserveRecentTurns: 6,
	}
}

func (p TrimPolicy) withDefaults() TrimPolicy {
	d := DefaultTrimPolicy()
	if p.MaxContextTokens <= 0 {
		p.MaxContextTokens = d.MaxContextTokens
	}
	if p.TrimToPercent <= 0 || p.TrimToPercent > 100 {
		p.TrimToPercent = d.TrimToPercent
	}
	if p.PreserveRecentTurns <= 0 {
		p.PreserveRecentTurns = d.PreserveRecentTurns
	}
	return p
}

// clearedPlaceholder replaces pruned tool result content.
const clearedPlaceholder = "[old tool result cleared]"

// Manager holds the ordered message list for one task. All methods are safe
// for concurrent use, though the engine's cooperative loop is the only
// writer during a turn.
type Manager struct {
	mu       sync.Mutex
	messages []*models.Message
	policy   TrimPolicy
}

// NewManager creates a manager with the given policy.
func NewManager(policy TrimPolicy) *Manager {
	return &Manager{policy: policy.withDefaults()}
}

// Policy returns the active trim policy.
func (m *Manager) Policy() TrimPolicy {
	return m.policy
}

// Append adds a message to the end of the history.
func (m *Manager) Append(msg *models.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// Messages returns a snapshot of the history in order.
func (m *Manager) Messages() []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// EstimatedTokens returns the estimated token footprint of the history.
func (m *Manager) EstimatedTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateLocked()
}

func (m *Manager) estimateLocked() int {
	total := 0
	for _, msg := range m.messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// Utilization returns estimated tokens over the ceiling, 0..1+.
func (m *Manager) Utilization() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.estimateLocked()) / float64(m.policy.MaxContextTokens)
}

// EnforceWindow trims oldest non-preserved turns when the estimate exceeds
// the ceiling, until usage drops to TrimToPercent of the ceiling. The last
// PreserveRecentTurns turns, the system prefix, and any turn with an
// unresolved tool call are never removed. Returns the number of messages
// removed.
func (m *Manager) EnforceWindow() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.estimateLocked() <= m.policy.MaxContextTokens {
		return 0
	}
	target := m.policy.MaxContextTokens * m.policy.TrimToPercent / 100
	return m.trimToTargetLocked(target, m.policy.PreserveRecentTurns)
}

// AggressiveTrim is the recovery path after a provider-reported context
// overflow: it trims to half the normal target and preserves only the two
// most recent turns. The caller bounds how many times this runs before the
// overflow error is surfaced unresolved. Returns the number of messages
// removed.
func (m *Manager) AggressiveTrim() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.policy.MaxContextTokens * m.policy.TrimToPercent / 200
	preserve := 2
	removed := m.trimToTargetLocked(target, preserve)
	removed += m.pruneToolResponsesLocked(preserve)
	return removed
}

// trimToTargetLocked removes whole turns from the oldest end, skipping the
// system prefix, preserved recent turns, and turns with in-flight tool
// calls.
func (m *Manager) trimToTargetLocked(targetTokens, preserveRecent int) int {
	turns := segmentTurns(m.messages)
	if len(turns) <= preserveRecent {
		return 0
	}

	removable := make(map[int]bool)
	// Turn 0 is the system prefix when it contains no user message.
	first := 0
	if len(turns) > 0 && isSystemPrefix(turns[0], m.messages) {
		first = 1
	}
	for i := first; i < len(turns)-preserveRecent; i++ {
		if hasUnresolvedToolCall(m.messages, turns[i]) {
			continue
		}
		removable[i] = true
	}

	removed := 0
	current := m.estimateLocked()
	drop := make(map[int]bool)
	for i := first; i < len(turns)-preserveRecent && current > targetTokens; i++ {
		if !removable[i] {
			continue
		}
		for j := turns[i].start; j < turns[i].end; j++ {
			current -= EstimateMessageTokens(m.messages[j])
			drop[j] = true
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	kept := make([]*models.Message, 0, len(m.messages)-removed)
	for i, msg := range m.messages {
		if !drop[i] {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return removed
}

// PruneToolResponses clears superseded tool-result content from completed
// turns outside the preserved window, bounding memory without losing the
// conversational shape. Returns the number of results cleared.
func (m *Manager) PruneToolResponses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneToolResponsesLocked(m.policy.PreserveRecentTurns)
}

func (m *Manager) pruneToolResponsesLocked(preserveRecent int) int {
	turns := segmentTurns(m.messages)
	if len(turns) <= preserveRecent {
		return 0
	}

	cleared := 0
	for i := 0; i < len(turns)-preserveRecent; i++ {
		if hasUnresolvedToolCall(m.messages, turns[i]) {
			continue
		}
		for j := turns[i].start; j < turns[i].end; j++ {
			msg := m.messages[j]
			for k := range msg.ToolResults {
				if msg.ToolResults[k].Content != clearedPlaceholder && msg.ToolResults[k].Content != "" {
					msg.ToolResults[k].Content = clearedPlaceholder
					cleared++
				}
			}
		}
	}
	return cleared
}

// turnSpan is a half-open [start, end) index range of one turn.
type turnSpan struct {
	start, end int
}

// segmentTurns splits the history into turns. A turn begins at each user
// message; any leading non-user messages form the first span.
func segmentTurns(messages []*models.Message) []turnSpan {
	var turns []turnSpan
	start := 0
	for i, msg := range messages {
		if msg.Role == models.RoleUser && i > start {
			turns = append(turns, turnSpan{start: start, end: i})
			start = i
		}
	}
	if start < len(messages) {
		turns = append(turns, turnSpan{start: start, end: len(messages)})
	}
	return turns
}

func isSystemPrefix(span turnSpan, messages []*models.Message) bool {
	for i := span.start; i < span.end; i++ {
		if messages[i].Role != models.RoleSystem {
			return false
		}
	}
	return span.end > span.start
}

// hasUnresolvedToolCall reports whether any tool call inside span still
// lacks a result anywhere in the history. Such turns are in flight and must
// survive trimming.
func hasUnresolvedToolCall(messages []*models.Message, span turnSpan) bool {
	resolved := make(map[string]bool)
	for _, msg := range messages {
		for _, result := range msg.ToolResults {
			resolved[result.ToolCallID] = true
		}
	}
	for i := span.start; i < span.end; i++ {
		for _, call := range messages[i].ToolCalls {
			if !resolved[call.ID] {
				return true
			}
		}
	}
	return false
}
