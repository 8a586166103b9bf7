// Package loopdetect guards the engine against runaway repetition: the same
// tool call issued over and over, endless tool-only turns, and assistants
// that repeat themselves verbatim.
package loopdetect

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Config sets the detector's thresholds.
type Config struct {
	// SoftLimit is the repeat count at which RecordCall starts emitting
	// warnings. Default: 3.
	SoftLimit int `yaml:"soft_limit"`

	// HardLimit is the repeat count that forces termination. Default: 5.
	HardLimit int `yaml:"hard_limit"`

	// MaxToolLoops caps consecutive turns containing at least one tool
	// call, any tool. Default: 100.
	MaxToolLoops int `yaml:"max_tool_loops"`

	// FailureLimit is how many times a (name, signature) pair may fail
	// before dispatch refuses it pre-execution. Default: 3.
	FailureLimit int `yaml:"failure_limit"`

	// ResponseRepeatLimit is the number of identical consecutive
	// assistant responses treated as a loop. Default: 3.
	ResponseRepeatLimit int `yaml:"response_repeat_limit"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		SoftLimit:           3,
		HardLimit:           5,
		MaxToolLoops:        100,
		FailureLimit:        3,
		ResponseRepeatLimit: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SoftLimit <= 0 {
		c.SoftLimit = d.SoftLimit
	}
	if c.HardLimit <= 0 {
		c.HardLimit = d.HardLimit
	}
	if c.MaxToolLoops <= 0 {
		c.MaxToolLoops = d.MaxToolLoops
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = d.FailureLimit
	}
	if c.ResponseRepeatLimit <= 0 {
		c.ResponseRepeatLimit = d.ResponseRepeatLimit
	}
	return c
}

// Detector tracks recent tool-call signatures and turn shapes for one task.
// It is safe for concurrent use: parallel dispatch records calls from
// multiple goroutines.
type Detector struct {
	mu     sync.Mutex
	config Config

	callCounts    map[string]int
	failureCounts map[string]int
	hardExceeded  bool

	consecutiveToolLoops int

	lastResponse        string
	responseRepeatCount int
}

// New creates a detector with the given thresholds.
func New(config Config) *Detector {
	return &Detector{
		config:        config.withDefaults(),
		callCounts:    make(map[string]int),
		failureCounts: make(map[string]int),
	}
}

// Signature builds the canonical signature for a tool call: name plus the
// argument JSON re-serialized with sorted keys, so reordering argument keys
// collapses into the same signature.
func Signature(name string, args json.RawMessage) string {
	return name + ":" + canonicalJSON(args)
}

func canonicalJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		// Not JSON; fall back to the raw bytes so distinct garbage
		// still gets distinct signatures.
		return string(raw)
	}
	// encoding/json sorts map keys at every nesting level.
	out, err := json.Marshal(value)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// RecordCall registers one tool call about to execute. It returns a warning
// string once the soft threshold is crossed, and flips the hard-limit flag
// when the hard threshold is crossed. The warning never blocks execution;
// the hard limit does, via HardLimitExceeded.
func (d *Detector) RecordCall(name string, args json.RawMessage) string {
	sig := Signature(name, args)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.callCounts[sig]++
	count := d.callCounts[sig]

	if count > d.config.HardLimit {
		d.hardExceeded = true
		return fmt.Sprintf("tool %s repeated %d times with identical arguments; hard limit %d exceeded", name, count, d.config.HardLimit)
	}
	if count >= d.config.SoftLimit {
		return fmt.Sprintf("tool %s repeated %d times with identical arguments", name, count)
	}
	return ""
}

// HardLimitExceeded reports whether any signature crossed the hard ceiling.
// Once set it stays set for the life of the detector.
func (d *Detector) HardLimitExceeded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hardExceeded
}

// RegisterToolTurn counts a turn that contained at least one tool call and
// returns the running streak.
func (d *Detector) RegisterToolTurn() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveToolLoops++
	return d.consecutiveToolLoops
}

// ResetToolLoopGuard clears the streak. Called whenever a turn ends with
// plain text and no tool call, distinguishing healthy multi-tool usage from
// stuck repetition.
func (d *Detector) ResetToolLoopGuard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveToolLoops = 0
}

// ConsecutiveToolLoops returns the current streak.
func (d *Detector) ConsecutiveToolLoops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveToolLoops
}

// ToolLoopLimitExceeded reports whether the streak crossed MaxToolLoops.
// Exactly MaxToolLoops tool turns may run; the next one trips the guard.
func (d *Detector) ToolLoopLimitExceeded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveToolLoops > d.config.MaxToolLoops
}

// MaxToolLoops returns the configured streak ceiling.
func (d *Detector) MaxToolLoops() int {
	return d.config.MaxToolLoops
}

// RecordFailure registers a failed execution of a (name, args) pair.
// Timeouts are recorded by the caller only when they want them counted;
// by default a slow environment should not feed this guard.
func (d *Detector) RecordFailure(name string, args json.RawMessage) int {
	sig := Signature(name, args)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failureCounts[sig]++
	return d.failureCounts[sig]
}

// FailureCount returns how many times a (name, args) pair has failed.
func (d *Detector) FailureCount(name string, args json.RawMessage) int {
	sig := Signature(name, args)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failureCounts[sig]
}

// FailureLimitReached reports whether dispatch should refuse the pair
// pre-execution.
func (d *Detector) FailureLimitReached(name string, args json.RawMessage) bool {
	return d.FailureCount(name, args) >= d.config.FailureLimit
}

// FailureLimit returns the configured failure ceiling.
func (d *Detector) FailureLimit() int {
	return d.config.FailureLimit
}

// RecordResponse tracks consecutive identical assistant responses and
// reports true when the repetition limit is reached.
func (d *Detector) RecordResponse(text string) bool {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if normalized == d.lastResponse {
		d.responseRepeatCount++
	} else {
		d.lastResponse = normalized
		d.responseRepeatCount = 1
	}
	return d.responseRepeatCount >= d.config.ResponseRepeatLimit
}
