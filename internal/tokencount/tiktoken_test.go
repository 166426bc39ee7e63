package tokencount

import (
	"testing"

	"github.com/nexus3/nexus3/pkg/models"
)

func TestNewTiktokenKnownModels(t *testing.T) {
	for _, model := range []string{"gpt-4o", "gpt-4", "gpt-3.5-turbo", "claude-3-5-sonnet"} {
		t.Run(model, func(t *testing.T) {
			c, err := NewTiktoken(model)
			if err != nil {
				t.Fatalf("NewTiktoken(%q) error: %v", model, err)
			}
			if c.Model() != model {
				t.Fatalf("Model() = %q, want %q", c.Model(), model)
			}
		})
	}
}

func TestTiktokenCountNonNegative(t *testing.T) {
	c, err := NewTiktoken("gpt-4o")
	if err != nil {
		t.Fatalf("NewTiktoken error: %v", err)
	}
	if got := c.Count(""); got != 0 {
		t.Fatalf("Count(\"\") = %d, want 0", got)
	}
	if got := c.Count("hello world"); got <= 0 {
		t.Fatalf("Count(\"hello world\") = %d, want > 0", got)
	}
}

func TestTiktokenCountMessagesIncludesPriming(t *testing.T) {
	c, err := NewTiktoken("gpt-4o")
	if err != nil {
		t.Fatalf("NewTiktoken error: %v", err)
	}
	got := c.CountMessages(nil)
	if got != replyPrimingTokens {
		t.Fatalf("CountMessages(nil) = %d, want %d (priming only)", got, replyPrimingTokens)
	}

	withContent := c.CountMessages([]models.Message{{Role: models.RoleUser, Content: "hi there"}})
	if withContent <= got {
		t.Fatalf("expected non-empty message to add tokens beyond priming: got=%d base=%d", withContent, got)
	}
}

func TestTiktokenCounterSatisfiesInterface(t *testing.T) {
	var _ Counter = (*Tiktoken)(nil)
	var _ Counter = Heuristic{}
}
