package models

import "fmt"

// OutcomeKind enumerates the terminal states of a task.
type OutcomeKind string

const (
	// OutcomeUnknown is the transient pre-terminal state. It exists only
	// while the loop is running and is finalized exactly once at exit.
	OutcomeUnknown OutcomeKind = "unknown"

	// OutcomeSuccess means the task completed with a final answer.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeTurnLimitReached means the turn ceiling was hit first.
	OutcomeTurnLimitReached OutcomeKind = "turn_limit_reached"

	// OutcomeToolLoopLimitReached means too many consecutive tool turns.
	OutcomeToolLoopLimitReached OutcomeKind = "tool_loop_limit_reached"

	// OutcomeLoopDetected means runaway repetition was detected.
	OutcomeLoopDetected OutcomeKind = "loop_detected"

	// OutcomeStoppedNoAction means the model idled without tools or a
	// completion signal for too many consecutive turns.
	OutcomeStoppedNoAction OutcomeKind = "stopped_no_action"

	// OutcomeCancelled means the external cancellation signal fired.
	OutcomeCancelled OutcomeKind = "cancelled"

	// OutcomeAborted means an unrecoverable provider error ended the task.
	OutcomeAborted OutcomeKind = "aborted"
)

// TaskOutcome is the terminal result of a task. Max/Used carry the relevant
// ceiling and the value reached when a limit outcome applies.
type TaskOutcome struct {
	Kind OutcomeKind `json:"kind"`
	Max  int         `json:"max,omitempty"`
	Used int         `json:"used,omitempty"`
}

// UnknownOutcome returns the transient initial outcome.
func UnknownOutcome() TaskOutcome {
	return TaskOutcome{Kind: OutcomeUnknown}
}

// SuccessOutcome returns a success outcome.
func SuccessOutcome() TaskOutcome {
	return TaskOutcome{Kind: OutcomeSuccess}
}

// TurnLimitReached returns a turn-limit outcome carrying the ceiling and the
// number of turns actually executed.
func TurnLimitReached(max, used int) TaskOutcome {
	return TaskOutcome{Kind: OutcomeTurnLimitReached, Max: max, Used: used}
}

// ToolLoopLimitReached returns a tool-loop-limit outcome carrying the ceiling
// and the consecutive tool-turn streak that hit it.
func ToolLoopLimitReached(max, streak int) TaskOutcome {
	return TaskOutcome{Kind: OutcomeToolLoopLimitReached, Max: max, Used: streak}
}

// Terminal reports whether the outcome is final.
func (o TaskOutcome) Terminal() bool {
	return o.Kind != OutcomeUnknown
}

// String renders the outcome for logs and user-facing summaries.
func (o TaskOutcome) String() string {
	switch o.Kind {
	case OutcomeTurnLimitReached:
		return fmt.Sprintf("turn limit reached (%d of %d turns)", o.Used, o.Max)
	case OutcomeToolLoopLimitReached:
		return fmt.Sprintf("tool loop limit reached (%d consecutive tool turns, max %d)", o.Used, o.Max)
	default:
		return string(o.Kind)
	}
}
