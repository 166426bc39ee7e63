// Package tokencount implements NEXUS3's Token Counter (C3): an interface
// for estimating how many tokens a string or message list will cost a
// provider, with a character-based heuristic default and an optional
// tiktoken-backed accurate implementation.
package tokencount

import (
	"github.com/nexus3/nexus3/pkg/models"
)

// Counter estimates token costs. Accuracy is advisory — the budget it feeds
// is a soft bound, not a wire constraint (spec §4.3).
type Counter interface {
	Count(text string) int
	CountMessages(messages []models.Message) int
}

// charsPerToken and messageOverhead calibrate the heuristic counter: roughly
// four characters per token, plus a fixed per-message framing overhead
// (role marker, separators) that a real tokenizer would also charge.
const (
	charsPerToken   = 4
	messageOverhead = 4
)

// Heuristic is the default Counter: a character-count approximation with no
// external dependency, usable before any model is known.
type Heuristic struct{}

// NewHeuristic returns the default character-based Counter.
func NewHeuristic() Heuristic {
	return Heuristic{}
}

// Count approximates the token cost of text.
func (Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		return 1
	}
	return n
}

func (h Heuristic) countToolCall(tc models.ToolCall) int {
	n := h.Count(tc.Name)
	n += h.Count(string(tc.RawArguments()))
	return n
}

// CountMessages sums Count over each message's content, tool calls, and
// tool-call-id, adding messageOverhead per message.
func (h Heuristic) CountMessages(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += h.Count(m.Content)
		total += h.Count(m.ToolCallID)
		for _, tc := range m.ToolCalls {
			total += h.countToolCall(tc)
		}
	}
	return total
}
