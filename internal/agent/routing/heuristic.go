package routing

import (
	"regexp"
	"strings"
)

var (
	fencedCode  = regexp.MustCompile("```")
	diffMarkers = regexp.MustCompile(`(?m)^(\+\+\+|---|@@)\s`)
	codegenRe   = regexp.MustCompile(`(?i)\b(patch|diff|edit|rewrite|fix the code|implement|refactor this file|apply.{0,20}change)\b`)
	retrievalRe = regexp.MustCompile(`(?i)\b(search|look up|cite|citation|source|sources|retrieve|find references)\b`)
	complexRe   = regexp.MustCompile(`(?i)\b(plan|orchestrate|architecture|architect|refactor|multi-step|end-to-end|design doc)\b`)

	// toolActionRe matches short imperatives that name a workspace object.
	// These need at least one tool round-trip, so brevity alone must not
	// downgrade them to Simple.
	toolActionRe = regexp.MustCompile(`(?i)\b(list|read|show|open|inspect|ls|cat|grep|find|run)\b.{0,40}\b(file|files|dir|directory|folder|src|workspace|repo|tree|test|tests)\b`)
)

// classify applies the marker heuristics in priority order: codegen wins
// over retrieval, retrieval over complexity markers, markers over length.
func classify(text string, historyLen int, config Config) decision {
	trimmed := strings.TrimSpace(text)

	switch {
	case fencedCode.MatchString(trimmed),
		diffMarkers.MatchString(trimmed),
		codegenRe.MatchString(trimmed):
		return decisionCodegen
	case retrievalRe.MatchString(trimmed):
		return decisionRetrieval
	case complexRe.MatchString(trimmed):
		return decisionComplex
	}

	// Length thresholds. A long history leans complex even for a short
	// follow-up.
	length := len(trimmed)
	switch {
	case length <= config.ShortLengthThreshold && historyLen < longHistoryMessages:
		if toolActionRe.MatchString(trimmed) {
			return decisionStandard
		}
		return decisionSimple
	case length >= config.LongLengthThreshold || historyLen >= longHistoryMessages:
		return decisionComplex
	default:
		return decisionStandard
	}
}

// longHistoryMessages is the history length past which even short inputs
// stop classifying as Simple.
const longHistoryMessages = 40

type decision int

const (
	decisionSimple decision = iota
	decisionStandard
	decisionComplex
	decisionCodegen
	decisionRetrieval
)
