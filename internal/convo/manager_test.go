package convo

import (
	"strings"
	"testing"
	"time"

	"github.com/nexus3/nexus3/internal/tokencount"
	"github.com/nexus3/nexus3/pkg/models"
)

func TestEmptyAssistantGuardRejects(t *testing.T) {
	m := New(Config{})
	m.AddAssistantMessage(models.Message{Content: ""})
	if len(m.Messages()) != 0 {
		t.Fatalf("expected empty assistant message to be rejected, got %v", m.Messages())
	}
}

func TestEmptyAssistantGuardAllowsToolCallsOnly(t *testing.T) {
	m := New(Config{})
	m.AddAssistantMessage(models.Message{
		ToolCalls: []models.ToolCall{{ID: "1", Name: "read_file"}},
	})
	if len(m.Messages()) != 1 {
		t.Fatalf("expected tool-call-only assistant message to be accepted, got %v", m.Messages())
	}
}

func TestDatetimeInjectionAfterHeader(t *testing.T) {
	prompt := "You are an agent.\n# Environment\nOS: linux\n"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	out := injectDatetime(prompt, now)
	lines := strings.Split(out, "\n")

	headerIdx := -1
	for i, l := range lines {
		if l == environmentHeader {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		t.Fatal("expected header line to survive")
	}
	if !strings.Contains(lines[headerIdx+1], "2026-01-02") {
		t.Fatalf("expected datetime injected immediately after header, got %q", lines[headerIdx+1])
	}
}

func TestDatetimeInjectionIgnoresSubstringMatch(t *testing.T) {
	prompt := "See also: \"# Environment\" mentioned here.\nNo real header."
	now := time.Now()
	out := injectDatetime(prompt, now)

	if !strings.HasSuffix(strings.TrimRight(out, "\n"), "Current datetime: "+now.Format("2006-01-02 15:04:05 MST")) {
		t.Fatalf("expected fresh section appended since no anchored header line exists, got %q", out)
	}
}

func TestDatetimeInjectionAppendsWhenMissing(t *testing.T) {
	out := injectDatetime("You are an agent.", time.Now())
	if !strings.Contains(out, environmentHeader) {
		t.Fatalf("expected fresh Environment section appended, got %q", out)
	}
}

func TestBuildMessagesPrependsSystemPrompt(t *testing.T) {
	m := New(Config{MaxTokens: 10000})
	m.SetSystemPrompt("be helpful\n# Environment\n", time.Now())
	m.AddUserMessage("hello")

	built := m.BuildMessages(StrategyOldestFirst)
	if len(built) != 2 {
		t.Fatalf("expected system + user, got %d messages", len(built))
	}
	if built[0].Role != models.RoleSystem {
		t.Fatalf("expected first message to be system, got %v", built[0].Role)
	}
}

func TestToolGroupSurvivesOrIsDroppedWhole(t *testing.T) {
	counter := tokencount.NewHeuristic()
	messages := []models.Message{
		{Role: models.RoleUser, Content: "do a thing"},
		{
			Role:    models.RoleAssistant,
			Content: "",
			ToolCalls: []models.ToolCall{
				{ID: "call1", Name: "read_file", Arguments: map[string]any{"path": "/a"}},
			},
		},
		{Role: models.RoleTool, Content: "file contents", ToolCallID: "call1"},
		{Role: models.RoleUser, Content: "thanks"},
	}

	// Budget far too small to fit the tool group plus trailing user message;
	// only the trailing group should survive.
	out := Truncate(messages, counter, 3, StrategyOldestFirst)
	if len(out) == 0 {
		t.Fatal("expected at least one message to survive")
	}

	assertNoOrphanToolMessages(t, out)
}

func TestOldestFirstKeepsAtLeastOneMessage(t *testing.T) {
	counter := tokencount.NewHeuristic()
	messages := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("x", 1000)},
		{Role: models.RoleUser, Content: strings.Repeat("y", 1000)},
	}
	out := Truncate(messages, counter, 0, StrategyOldestFirst)
	if len(out) != 1 {
		t.Fatalf("expected exactly one message kept under zero budget, got %d", len(out))
	}
	if out[0].Content != messages[1].Content {
		t.Fatalf("expected newest message kept, got %q", out[0].Content)
	}
}

func TestMiddleOutKeepsFirstAndLast(t *testing.T) {
	counter := tokencount.NewHeuristic()
	messages := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleUser, Content: "middle-1"},
		{Role: models.RoleUser, Content: "middle-2"},
		{Role: models.RoleUser, Content: "last"},
	}
	out := Truncate(messages, counter, 0, StrategyMiddleOut)
	if len(out) != 2 {
		t.Fatalf("expected only first+last to survive under zero middle budget, got %d", len(out))
	}
	if out[0].Content != "first" || out[len(out)-1].Content != "last" {
		t.Fatalf("expected first/last preserved, got %v", out)
	}
}

func TestBuildMessagesIdempotentAfterTruncation(t *testing.T) {
	m := New(Config{MaxTokens: 20, Reserve: 0})
	for i := 0; i < 10; i++ {
		m.AddUserMessage(strings.Repeat("z", 50))
	}

	first := m.BuildMessages(StrategyOldestFirst)
	second := m.BuildMessages(StrategyOldestFirst)

	if len(first) != len(second) {
		t.Fatalf("expected idempotent truncation, got %d then %d", len(first), len(second))
	}
}

func assertNoOrphanToolMessages(t *testing.T, messages []models.Message) {
	t.Helper()
	assistantCallIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Role == models.RoleAssistant {
			for _, tc := range m.ToolCalls {
				assistantCallIDs[tc.ID] = true
			}
		}
	}
	for _, m := range messages {
		if m.Role == models.RoleTool && !assistantCallIDs[m.ToolCallID] {
			t.Fatalf("found orphan tool message for call id %q", m.ToolCallID)
		}
	}
}
