package agent

import "strings"

// DefaultCompletionPhrases are the explicit completion signals that
// short-circuit remaining turns when they appear in a response.
var DefaultCompletionPhrases = []string{
	"task complete",
	"task is complete",
	"task completed",
	"all done",
	"finished implementing",
	"successfully completed",
	"implementation is complete",
}

// CheckCompletion reports whether text contains an explicit completion
// phrase. Matching is case-insensitive. Short responses that are nothing
// but a completion phrase also match ("Done.").
func CheckCompletion(text string, phrases []string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return false
	}
	if len(phrases) == 0 {
		phrases = DefaultCompletionPhrases
	}
	for _, phrase := range phrases {
		if strings.Contains(trimmed, strings.ToLower(phrase)) {
			return true
		}
	}
	bare := strings.Trim(trimmed, ".! ")
	return bare == "done" || bare == "finished"
}
