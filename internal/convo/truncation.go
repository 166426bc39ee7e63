package convo

import (
	"github.com/nexus3/nexus3/internal/tokencount"
	"github.com/nexus3/nexus3/pkg/models"
)

// Strategy selects a truncation algorithm (spec §4.4).
type Strategy string

const (
	StrategyOldestFirst Strategy = "oldest_first"
	StrategyMiddleOut   Strategy = "middle_out"
)

// group is a contiguous run of messages that must survive truncation
// together: either a single ordinary message, or an Assistant message
// carrying tool_calls followed by every Tool message answering one of
// those calls, in order. Splitting a group would leave a dangling tool
// result or an unanswered tool call, which no provider accepts.
type group struct {
	messages []models.Message
	tokens   int
}

func groupMessages(messages []models.Message, counter tokencount.Counter) []group {
	var groups []group
	i := 0
	for i < len(messages) {
		msg := messages[i]
		if msg.Role == models.RoleAssistant && msg.HasToolCalls() {
			ids := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				ids[tc.ID] = true
			}
			run := []models.Message{msg}
			j := i + 1
			for j < len(messages) && messages[j].Role == models.RoleTool && ids[messages[j].ToolCallID] {
				run = append(run, messages[j])
				j++
			}
			groups = append(groups, group{messages: run, tokens: counter.CountMessages(run)})
			i = j
			continue
		}
		groups = append(groups, group{
			messages: []models.Message{msg},
			tokens:   counter.CountMessages([]models.Message{msg}),
		})
		i++
	}
	return groups
}

func flatten(groups []group) []models.Message {
	total := 0
	for _, g := range groups {
		total += len(g.messages)
	}
	out := make([]models.Message, 0, total)
	for _, g := range groups {
		out = append(out, g.messages...)
	}
	return out
}

// Truncate applies strategy to messages under the given token budget,
// never splitting a tool_calls/tool_result group (spec §4.4's critical
// invariant) and always keeping at least one message when the input is
// non-empty.
func Truncate(messages []models.Message, counter tokencount.Counter, budget int, strategy Strategy) []models.Message {
	if len(messages) == 0 {
		return messages
	}

	groups := groupMessages(messages, counter)

	switch strategy {
	case StrategyMiddleOut:
		return flatten(truncateMiddleOut(groups, budget))
	default:
		return flatten(truncateOldestFirst(groups, budget))
	}
}

// truncateOldestFirst walks from newest backwards, accumulating groups
// until the next one would overflow budget, but always keeps at least one
// group.
func truncateOldestFirst(groups []group, budget int) []group {
	var kept []group
	used := 0
	for i := len(groups) - 1; i >= 0; i-- {
		g := groups[i]
		if len(kept) > 0 && used+g.tokens > budget {
			break
		}
		kept = append([]group{g}, kept...)
		used += g.tokens
	}
	if len(kept) == 0 {
		kept = []group{groups[len(groups)-1]}
	}
	return kept
}

// truncateMiddleOut keeps the first and last group unconditionally, then
// packs as many newest-first middle groups as fit in the remaining budget.
func truncateMiddleOut(groups []group, budget int) []group {
	if len(groups) == 1 {
		return groups
	}

	first := groups[0]
	last := groups[len(groups)-1]
	used := first.tokens + last.tokens

	middle := groups[1 : len(groups)-1]
	var keptMiddle []group
	for i := len(middle) - 1; i >= 0; i-- {
		g := middle[i]
		if used+g.tokens > budget {
			continue
		}
		keptMiddle = append([]group{g}, keptMiddle...)
		used += g.tokens
	}

	out := make([]group, 0, len(keptMiddle)+2)
	out = append(out, first)
	out = append(out, keptMiddle...)
	out = append(out, last)
	return out
}
