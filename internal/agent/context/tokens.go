package context

import "github.com/strandlabs/strand/pkg/models"

// charsPerToken is the cheap proxy used for estimation: ~4 chars per token
// for typical English and code. Estimates must be monotonic with text
// length; exact counts are the provider's business.
const charsPerToken = 4

// messageOverheadTokens accounts for role markers and framing per message.
const messageOverheadTokens = 4

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EstimateMessageTokens approximates the token cost of one message,
// including its tool calls and results.
func EstimateMessageTokens(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	total := messageOverheadTokens + EstimateTokens(msg.Content)
	for _, call := range msg.ToolCalls {
		total += EstimateTokens(call.Name) + EstimateTokens(string(call.Input))
	}
	for _, result := range msg.ToolResults {
		total += EstimateTokens(result.Content)
	}
	return total
}
