package models

import "time"

// SessionType distinguishes top-level user-facing sessions from the
// sub-agent sessions spawned to carry out delegated work.
type SessionType string

const (
	SessionTypeMain  SessionType = "main"
	SessionTypeChild SessionType = "child"
)

// SessionStatus is the lifecycle state recorded alongside a session's
// markers row (spec §3 SessionMarkers).
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// SessionMarkers is the small, frequently-updated row tracked per agent in
// Session Storage (C7), separate from the message log itself so that status
// polling never has to scan messages.
type SessionMarkers struct {
	SessionType   SessionType
	SessionStatus SessionStatus
	ParentAgentID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TokenUsage is a running tally of tokens consumed by a session, broken out
// by role so the Compaction Engine (C5) can report before/after deltas.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage sample in place.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// SavedSession is the schema-v1 on-disk snapshot persisted by C11 (Session
// Persistence) — distinct from C7's SQLite message log: this is the
// coarser, whole-session JSON blob written atomically to support restore
// after process restart (spec §4.11).
type SavedSession struct {
	SchemaVersion int `json:"schema_version"`

	AgentID    string    `json:"agent_id"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`

	Messages []Message `json:"messages"`

	SystemPrompt     string `json:"system_prompt,omitempty"`
	SystemPromptPath string `json:"system_prompt_path,omitempty"`

	WorkingDirectory string `json:"working_directory"`

	PermissionLevel  PermissionLevel `json:"permission_level"`
	PermissionPreset string          `json:"permission_preset,omitempty"`
	DisabledTools    []string        `json:"disabled_tools,omitempty"`

	TokenUsage TokenUsage `json:"token_usage"`

	// Provenance records where this snapshot came from: "live" for a
	// snapshot written by a running session, "restored" once it has been
	// reloaded and resumed at least once.
	Provenance string `json:"provenance"`
}

// CurrentSchemaVersion is the SavedSession schema version this build
// produces and reads without migration.
const CurrentSchemaVersion = 1

// LogStream is a bitflag set selecting which log sinks a session writes to
// (spec §4.8/§4.9).
type LogStream uint8

const (
	LogStreamContext LogStream = 1 << iota
	LogStreamVerbose
	LogStreamRaw
)

// Has reports whether flag is set in the stream mask.
func (s LogStream) Has(flag LogStream) bool {
	return s&flag != 0
}

// LogConfig configures where and how a session's logs are written.
type LogConfig struct {
	BaseDir       string
	Streams       LogStream
	ParentSession string
	SessionType   SessionType
}
