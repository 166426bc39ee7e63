// Package compaction implements NEXUS3's Compaction Engine (C5):
// LLM-driven summarization of the oldest portion of a conversation once its
// token total crosses an externally-decided threshold.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexus3/nexus3/internal/tokencount"
	"github.com/nexus3/nexus3/pkg/models"
)

// Summarizer invokes a provider once, non-streaming, to produce a summary
// of the given prompt. Implementations wrap whatever LLMProvider the
// Session is configured with.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Result is the outcome of a compaction pass.
type Result struct {
	Preserved    []models.Message
	ToSummarize  []models.Message
	SummaryText  string
	Summary      models.Message
	SummarizedIDs []string
}

// Compact walks messages newest-to-oldest, keeping a preserved set under a
// budget of floor(available*preserveRatio), summarizes everything older,
// and returns the atomic replacement context (spec §4.5 steps 1-6).
// messageIDs, when non-nil, is a parallel slice of storage row ids used to
// populate Result.SummarizedIDs for Session Storage's summary_of column.
func Compact(ctx context.Context, messages []models.Message, messageIDs []string, counter tokencount.Counter, available int, preserveRatio float64, summarizer Summarizer, now time.Time) (Result, error) {
	if preserveRatio < 0 {
		preserveRatio = 0
	}
	if preserveRatio > 1 {
		preserveRatio = 1
	}
	budget := int(float64(available) * preserveRatio)

	preserved, toSummarize, preservedIdx := splitPreserved(messages, counter, budget)

	var summarizedIDs []string
	if messageIDs != nil {
		for i := range messages {
			if i < preservedIdx {
				summarizedIDs = append(summarizedIDs, messageIDs[i])
			}
		}
	}

	if len(toSummarize) == 0 {
		return Result{Preserved: preserved, ToSummarize: nil}, nil
	}

	prompt := RedactText(buildSummarizationPrompt(toSummarize))

	summaryText, err := summarizer.Summarize(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("compaction: summarize: %w", err)
	}

	summaryMsg := models.Message{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("[CONTEXT SUMMARY - Generated: %s]\n%s", now.Format("2006-01-02 15:04"), summaryText),
	}

	return Result{
		Preserved:     preserved,
		ToSummarize:   toSummarize,
		SummaryText:   summaryText,
		Summary:       summaryMsg,
		SummarizedIDs: summarizedIDs,
	}, nil
}

// splitPreserved walks newest-to-oldest accumulating budget, always keeping
// at least one message, and returns (preserved, toSummarize, splitIndex)
// where splitIndex is the index of the first preserved message in the
// original slice.
func splitPreserved(messages []models.Message, counter tokencount.Counter, budget int) ([]models.Message, []models.Message, int) {
	if len(messages) == 0 {
		return nil, nil, 0
	}

	used := 0
	splitIdx := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := counter.CountMessages(messages[i : i+1])
		if splitIdx != len(messages) && used+cost > budget {
			break
		}
		used += cost
		splitIdx = i
	}
	if splitIdx == len(messages) {
		splitIdx = len(messages) - 1
	}

	preserved := append([]models.Message(nil), messages[splitIdx:]...)
	toSummarize := append([]models.Message(nil), messages[:splitIdx]...)
	return preserved, toSummarize, splitIdx
}

// buildSummarizationPrompt concatenates role-tagged lines per spec §4.5
// step 3.
func buildSummarizationPrompt(messages []models.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation concisely, preserving decisions, facts, and open threads:\n\n")
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			fmt.Fprintf(&b, "USER: %s\n", m.Content)
		case models.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "ASSISTANT: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "-> %s(%s)\n", tc.Name, string(tc.RawArguments()))
			}
		case models.RoleTool:
			fmt.Fprintf(&b, "TOOL[%s]: %s\n", m.ToolCallID, m.Content)
		case models.RoleSystem:
			fmt.Fprintf(&b, "SYSTEM: %s\n", m.Content)
		}
	}
	return b.String()
}
