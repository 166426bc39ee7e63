// Package agent implements NEXUS3's Session (C10): the per-agent streaming
// tool-use loop tying together the Context Manager, Skill Registry,
// Permission Policy, and Cancellation Token.
package agent

import (
	"context"

	"github.com/nexus3/nexus3/pkg/models"
)

// CompletionRequest is what a Session sends to its provider on each loop
// iteration.
type CompletionRequest struct {
	Messages []models.Message
	Tools    []map[string]any
}

// LLMProvider is the normalized streaming interface every concrete
// provider integration implements. The wire format of any particular
// provider is out of scope here; Session only ever speaks this interface.
type LLMProvider interface {
	// Stream opens a provider completion and returns a channel of
	// normalized StreamEvents, terminated by exactly one
	// EventStreamComplete (or the channel closing on error, which the
	// caller observes via the returned error channel's not being nil).
	Stream(ctx context.Context, req CompletionRequest) (<-chan models.StreamEvent, error)
}

// Observer receives side-channel events that never enter Context: thinking
// text and tool-call-started notifications, used to drive an external
// "thinking" display or progress UI.
type Observer interface {
	OnReasoningDelta(text string)
	OnToolCallStarted(id, name string)
}

// NoopObserver discards everything; the default when a Session is
// constructed without one.
type NoopObserver struct{}

func (NoopObserver) OnReasoningDelta(string)    {}
func (NoopObserver) OnToolCallStarted(_, _ string) {}
