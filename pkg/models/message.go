// Package models defines the wire- and storage-level data types shared across
// NEXUS3's subsystems: conversation messages, tool calls and results, stream
// events, permissions, and persisted session snapshots.
package models

import "encoding/json"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the provider.
//
// Arguments is a decoded JSON object. When the provider streamed malformed
// JSON for the call's arguments, the aggregator that assembled this ToolCall
// preserves the original fragment under the reserved key "_raw_arguments"
// rather than silently substituting an empty object — the skill layer may
// still be able to recover a usable value from it, or at least report a
// precise error instead of a generic one.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// RawArguments re-serializes Arguments to JSON for schema validation and
// storage. It never fails: an empty map marshals to "{}".
func (tc ToolCall) RawArguments() json.RawMessage {
	if tc.Arguments == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Success reports whether the tool call completed without error.
func (r ToolResult) Success() bool {
	return r.Error == ""
}

// Message is one turn in a conversation.
//
// Invariant (spec §3): a Tool message's ToolCallID must match the ID of some
// ToolCall in a preceding Assistant message within the same context window.
// Context Manager (C4) enforces this on every mutation and on truncation.
type Message struct {
	Role Role `json:"role"`

	// Content is the message text. Empty for a pure tool-call Assistant
	// message is legal; empty AND zero ToolCalls is rejected by the Context
	// Manager's empty-assistant guard (spec §4.4, invariant I2).
	Content string `json:"content"`

	// ToolCalls is populated only when Role == RoleAssistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set iff Role == RoleTool, and names the ToolCall this
	// message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether this message carries any tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsEmptyAssistant reports whether this is an Assistant message with no
// content and no tool calls — the shape the empty-assistant guard rejects.
func (m Message) IsEmptyAssistant() bool {
	return m.Role == RoleAssistant && m.Content == "" && !m.HasToolCalls()
}
