// Package tokencount estimates token counts for TPM rate limiting.
// Uses a character-based heuristic (~4 chars per token for English), which
// is sufficient for admission control; billing always uses upstream-reported
// usage.
package tokencount

import (
	"github.com/tidwall/gjson"
)

// Counter estimates token counts for raw request bodies.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateRequest estimates the prompt token count of a raw JSON request
// body. Chat-shaped bodies ("messages" array) count per-message content plus
// formatting overhead; anything else falls back to body length.
func (c *Counter) EstimateRequest(body []byte) int {
	msgs := gjson.GetBytes(body, "messages")
	if !msgs.IsArray() {
		return max(estimateTokens(len(body)), 1)
	}

	total := 0
	msgs.ForEach(func(_, m gjson.Result) bool {
		total += messageOverhead
		total += estimateTokens(len(m.Get("role").String()))
		total += estimateTokens(len(m.Get("content").Raw))
		if tc := m.Get("tool_calls"); tc.Exists() {
			total += estimateTokens(len(tc.Raw))
		}
		return true
	})
	total += 3 // every reply is primed with <|start|>assistant<|message|>
	return max(total, 1)
}

// CountText estimates tokens for a plain text string.
func (c *Counter) CountText(text string) int {
	return max(estimateTokens(len(text)), 1)
}

// estimateTokens uses the ~4 bytes per token heuristic with ceil division.
func estimateTokens(n int) int {
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// messageOverhead is the per-message formatting cost for GPT-family chat
// templates.
const messageOverhead = 4
