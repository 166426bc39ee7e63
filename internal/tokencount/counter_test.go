package tokencount

import (
	"testing"

	"github.com/nexus3/nexus3/pkg/models"
)

func TestHeuristicCountEmpty(t *testing.T) {
	h := NewHeuristic()
	if got := h.Count(""); got != 0 {
		t.Fatalf("Count(\"\") = %d, want 0", got)
	}
}

func TestHeuristicCountNonEmptyAtLeastOne(t *testing.T) {
	h := NewHeuristic()
	if got := h.Count("a"); got < 1 {
		t.Fatalf("Count(\"a\") = %d, want >= 1", got)
	}
}

func TestHeuristicCountScalesWithLength(t *testing.T) {
	h := NewHeuristic()
	short := h.Count("hello")
	long := h.Count("hello, this is a substantially longer piece of text than the short one")
	if long <= short {
		t.Fatalf("expected longer text to cost more tokens: short=%d long=%d", short, long)
	}
}

func TestHeuristicCountMessagesIncludesToolCalls(t *testing.T) {
	h := NewHeuristic()
	withoutTool := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	withTool := []models.Message{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "/tmp/x"}},
			},
		},
	}

	a := h.CountMessages(withoutTool)
	b := h.CountMessages(withTool)
	if b <= a-messageOverhead {
		t.Fatalf("expected tool call to contribute tokens: a=%d b=%d", a, b)
	}
}

func TestHeuristicCountMessagesOverheadPerMessage(t *testing.T) {
	h := NewHeuristic()
	one := h.CountMessages([]models.Message{{Role: models.RoleUser, Content: ""}})
	two := h.CountMessages([]models.Message{
		{Role: models.RoleUser, Content: ""},
		{Role: models.RoleUser, Content: ""},
	})
	if two != 2*one {
		t.Fatalf("expected overhead to scale linearly with empty messages: one=%d two=%d", one, two)
	}
}
