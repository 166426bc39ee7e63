// Package convo implements NEXUS3's Context Manager (C4): the ordered
// conversation a Session sends to its provider, with token budgeting and
// tool-call/tool-result group-preserving truncation.
//
// Named convo rather than context to avoid shadowing the standard library's
// context package throughout files that need both.
package convo

import (
	"log/slog"
	"strings"
	"time"

	"github.com/nexus3/nexus3/internal/tokencount"
	"github.com/nexus3/nexus3/pkg/models"
)

// TokenUsage reports the token accounting for the current context, broken
// out by section (spec §4.4's get_token_usage).
type TokenUsage struct {
	System    int
	Tools     int
	Messages  int
	Total     int
	Budget    int
	Available int
}

// Manager holds the system prompt, tool definitions, and ordered message
// history for one agent, and enforces the invariants spec §4.4 names:
// the empty-assistant guard and tool-call/tool-result group integrity
// across truncation.
type Manager struct {
	counter tokencount.Counter
	logger  *slog.Logger

	systemPrompt string
	toolDefs     []map[string]any
	messages     []models.Message

	maxTokens int
	reserve   int
}

// Config configures a new Manager.
type Config struct {
	Counter   tokencount.Counter
	Logger    *slog.Logger
	MaxTokens int
	// Reserve is tokens held back for the provider's reply (spec §4.4's
	// truncation budget: max_tokens - reserve - system - tools).
	Reserve int
}

// New constructs a Manager. A nil Counter defaults to the heuristic
// implementation; a nil Logger defaults to slog.Default().
func New(cfg Config) *Manager {
	if cfg.Counter == nil {
		cfg.Counter = tokencount.NewHeuristic()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128_000
	}
	return &Manager{
		counter:   cfg.Counter,
		logger:    cfg.Logger,
		maxTokens: cfg.MaxTokens,
		reserve:   cfg.Reserve,
	}
}

const environmentHeader = "# Environment"

// SetSystemPrompt installs the system prompt, injecting the current
// datetime into its Environment section per the datetime-injection rule
// (spec §4.4): inserted immediately after the first line that equals
// "# Environment" exactly, anchored to line start — never via blind string
// replacement, since that literal substring may legitimately appear
// elsewhere in the prompt. If no such header exists, a fresh Environment
// section is appended.
func (m *Manager) SetSystemPrompt(prompt string, now time.Time) {
	m.systemPrompt = injectDatetime(prompt, now)
}

func injectDatetime(prompt string, now time.Time) string {
	stamp := "Current datetime: " + now.Format("2006-01-02 15:04:05 MST")
	lines := strings.Split(prompt, "\n")

	for i, line := range lines {
		if line == environmentHeader {
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:i+1]...)
			out = append(out, stamp)
			out = append(out, lines[i+1:]...)
			return strings.Join(out, "\n")
		}
	}

	section := environmentHeader + "\n" + stamp
	if prompt == "" {
		return section
	}
	return strings.TrimRight(prompt, "\n") + "\n\n" + section
}

// SetToolDefinitions installs the JSON-schema tool definitions sent to the
// provider alongside the message history.
func (m *Manager) SetToolDefinitions(defs []map[string]any) {
	m.toolDefs = defs
}

// ToolDefinitions returns the JSON-schema tool definitions installed by
// SetToolDefinitions, for a Session to attach to its provider request
// alongside BuildMessages' output.
func (m *Manager) ToolDefinitions() []map[string]any {
	return m.toolDefs
}

// AddUserMessage appends a user turn unconditionally.
func (m *Manager) AddUserMessage(content string) {
	m.messages = append(m.messages, models.Message{Role: models.RoleUser, Content: content})
}

// AddAssistantMessage appends an assistant turn, enforcing the
// empty-assistant guard: a message with no content and no tool calls is
// rejected (logged, not appended) so a stream that aborts before producing
// anything cannot pollute the history.
func (m *Manager) AddAssistantMessage(msg models.Message) {
	msg.Role = models.RoleAssistant
	if msg.IsEmptyAssistant() {
		m.logger.Warn("rejected empty assistant message: no content and no tool calls")
		return
	}
	m.messages = append(m.messages, msg)
}

// AddToolResult appends the Tool message answering callID.
func (m *Manager) AddToolResult(callID, name string, result models.ToolResult) {
	content := result.Output
	if !result.Success() {
		content = result.Error
	}
	m.messages = append(m.messages, models.Message{
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: callID,
	})
	_ = name // name is carried for storage/logging layers, not the wire message itself
}

// ClearMessages discards the message history, leaving system prompt and
// tool definitions intact.
func (m *Manager) ClearMessages() {
	m.messages = nil
}

// Messages returns a copy of the current in-memory message slice.
func (m *Manager) Messages() []models.Message {
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// ReplaceMessages atomically swaps the message history, used by the
// Compaction Engine (C5) to install a summary-plus-preserved context.
func (m *Manager) ReplaceMessages(messages []models.Message) {
	m.messages = messages
}

// BuildMessages produces the ordered list to send to the provider, with the
// system prompt prepended as a synthetic system Message. If the context is
// over budget, truncation runs first (per strategy) and the in-memory
// history is resynced to the truncated set so repeated calls converge
// (idempotence, spec §4.4).
func (m *Manager) BuildMessages(strategy Strategy) []models.Message {
	if m.IsOverBudget() {
		truncated := Truncate(m.messages, m.counter, m.budgetForMessages(), strategy)
		m.messages = truncated
	}

	out := make([]models.Message, 0, len(m.messages)+1)
	if m.systemPrompt != "" {
		out = append(out, models.Message{Role: models.RoleSystem, Content: m.systemPrompt})
	}
	out = append(out, m.messages...)
	return out
}

func (m *Manager) toolDefsTokens() int {
	total := 0
	for _, def := range m.toolDefs {
		for k, v := range def {
			total += m.counter.Count(k)
			if s, ok := v.(string); ok {
				total += m.counter.Count(s)
			}
		}
	}
	return total
}

func (m *Manager) budgetForMessages() int {
	budget := m.maxTokens - m.reserve - m.counter.Count(m.systemPrompt) - m.toolDefsTokens()
	if budget < 0 {
		budget = 0
	}
	return budget
}

// GetTokenUsage returns the current context's token accounting.
func (m *Manager) GetTokenUsage() TokenUsage {
	system := m.counter.Count(m.systemPrompt)
	tools := m.toolDefsTokens()
	messages := m.counter.CountMessages(m.messages)
	total := system + tools + messages
	return TokenUsage{
		System:    system,
		Tools:     tools,
		Messages:  messages,
		Total:     total,
		Budget:    m.maxTokens,
		Available: m.maxTokens - total,
	}
}

// IsOverBudget reports whether the current context exceeds its token
// budget (minus the configured reserve).
func (m *Manager) IsOverBudget() bool {
	usage := m.GetTokenUsage()
	return usage.Total > m.maxTokens-m.reserve
}
