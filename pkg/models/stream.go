package models

// StreamEventKind tags the variant carried by a StreamEvent.
type StreamEventKind string

const (
	EventContentDelta    StreamEventKind = "content_delta"
	EventReasoningDelta   StreamEventKind = "reasoning_delta"
	EventToolCallStarted StreamEventKind = "tool_call_started"
	EventStreamComplete  StreamEventKind = "stream_complete"
)

// StreamEvent is the normalized vocabulary every LLMProvider implementation
// must translate its wire format into before handing events to a Session
// (design note, spec §9: "Provider stream as a sum-type iterator"). A stream
// always terminates with exactly one EventStreamComplete, or fails outright;
// an empty stream still emits one synthetic StreamComplete with an empty
// Message for uniformity.
type StreamEvent struct {
	Kind StreamEventKind

	// ContentDelta / ReasoningDelta payload.
	Text string

	// ToolCallStarted payload.
	ToolCallIndex int
	ToolCallID    string
	ToolCallName  string

	// ToolCallStarted incremental argument payload: providers often stream
	// tool arguments as fragments of a JSON string rather than all at once.
	ArgumentsFragment string

	// StreamComplete payload.
	Final *Message
}
