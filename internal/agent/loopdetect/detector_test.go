package loopdetect

import (
	"encoding/json"
	"testing"
)

func TestSignatureKeyOrderCollapses(t *testing.T) {
	a := Signature("read_file", json.RawMessage(`{"path":"main.go","offset":10}`))
	b := Signature("read_file", json.RawMessage(`{"offset":10,"path":"main.go"}`))
	if a != b {
		t.Errorf("reordered keys should produce identical signatures: %q vs %q", a, b)
	}

	c := Signature("read_file", json.RawMessage(`{"path":"other.go","offset":10}`))
	if a == c {
		t.Error("different arguments should produce different signatures")
	}
}

func TestSignatureNestedKeyOrder(t *testing.T) {
	a := Signature("edit", json.RawMessage(`{"opts":{"b":2,"a":1},"path":"x"}`))
	b := Signature("edit", json.RawMessage(`{"path":"x","opts":{"a":1,"b":2}}`))
	if a != b {
		t.Errorf("nested key order should collapse: %q vs %q", a, b)
	}
}

func TestSignatureEmptyAndInvalid(t *testing.T) {
	if Signature("t", nil) != Signature("t", json.RawMessage("{}")) {
		t.Error("nil args should equal empty object")
	}
	// Invalid JSON still yields a stable signature.
	if Signature("t", json.RawMessage("not-json")) != Signature("t", json.RawMessage("not-json")) {
		t.Error("invalid JSON should be stable")
	}
}

func TestSoftAndHardThresholds(t *testing.T) {
	d := New(Config{SoftLimit: 2, HardLimit: 4})
	args := json.RawMessage(`{"path":"a"}`)

	if w := d.RecordCall("read_file", args); w != "" {
		t.Errorf("first call should not warn, got %q", w)
	}
	if w := d.RecordCall("read_file", args); w == "" {
		t.Error("second call should warn at soft limit 2")
	}
	if d.HardLimitExceeded() {
		t.Error("hard limit should not trip at soft threshold")
	}

	d.RecordCall("read_file", args) // 3
	d.RecordCall("read_file", args) // 4
	if d.HardLimitExceeded() {
		t.Error("hard limit should not trip at exactly the limit")
	}
	d.RecordCall("read_file", args) // 5 > 4
	if !d.HardLimitExceeded() {
		t.Error("hard limit should trip past the limit")
	}
}

func TestHardLimitIsSticky(t *testing.T) {
	d := New(Config{SoftLimit: 1, HardLimit: 1})
	args := json.RawMessage(`{}`)
	d.RecordCall("x", args)
	d.RecordCall("x", args)
	if !d.HardLimitExceeded() {
		t.Fatal("hard limit should be exceeded")
	}
	d.RecordCall("y", json.RawMessage(`{"fresh":true}`))
	if !d.HardLimitExceeded() {
		t.Error("hard limit flag should stay set")
	}
}

func TestToolLoopGuard(t *testing.T) {
	d := New(Config{MaxToolLoops: 3})

	for i := 0; i < 2; i++ {
		d.RegisterToolTurn()
	}
	if d.ToolLoopLimitExceeded() {
		t.Error("limit should not trip below the ceiling")
	}

	d.ResetToolLoopGuard()
	if d.ConsecutiveToolLoops() != 0 {
		t.Error("reset should clear the streak")
	}

	for i := 0; i < 3; i++ {
		d.RegisterToolTurn()
	}
	if d.ToolLoopLimitExceeded() {
		t.Error("limit should not trip at exactly the ceiling")
	}

	d.RegisterToolTurn()
	if !d.ToolLoopLimitExceeded() {
		t.Error("limit should trip past the ceiling")
	}
}

func TestFailureGuard(t *testing.T) {
	d := New(Config{FailureLimit: 2})
	args := json.RawMessage(`{"cmd":"make"}`)

	d.RecordFailure("run_command", args)
	if d.FailureLimitReached("run_command", args) {
		t.Error("one failure should not reach limit 2")
	}
	d.RecordFailure("run_command", args)
	if !d.FailureLimitReached("run_command", args) {
		t.Error("two failures should reach limit 2")
	}

	// Different args are a different signature.
	if d.FailureLimitReached("run_command", json.RawMessage(`{"cmd":"ls"}`)) {
		t.Error("distinct arguments should not share failure counts")
	}
}

func TestResponseRepetition(t *testing.T) {
	d := New(Config{ResponseRepeatLimit: 3})

	if d.RecordResponse("working on it") {
		t.Error("first response should not trip")
	}
	if d.RecordResponse("working on it") {
		t.Error("second identical response should not trip at limit 3")
	}
	if !d.RecordResponse("working on it") {
		t.Error("third identical response should trip")
	}

	// A different response resets the run.
	if d.RecordResponse("something else") {
		t.Error("fresh response should reset the counter")
	}
}

func TestRecordResponseIgnoresEmpty(t *testing.T) {
	d := New(Config{ResponseRepeatLimit: 1})
	if d.RecordResponse("   ") {
		t.Error("whitespace-only responses should be ignored")
	}
}
