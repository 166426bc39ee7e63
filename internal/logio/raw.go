package logio

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawEventType names the JSONL record kinds RawWriter emits (spec §4.8).
type RawEventType string

const (
	RawEventRequest        RawEventType = "request"
	RawEventResponse       RawEventType = "response"
	RawEventStreamChunk    RawEventType = "stream_chunk"
	RawEventStreamComplete RawEventType = "stream_complete"
)

// StreamCompleteSummary is the payload carried by a stream_complete record.
type StreamCompleteSummary struct {
	EventCount     int    `json:"event_count"`
	ContentLength  int    `json:"content_length"`
	ToolCallCount  int    `json:"tool_call_count"`
	ReceivedDone   bool   `json:"received_done"`
	FinishReason   string `json:"finish_reason,omitempty"`
	HTTPStatus     int    `json:"http_status,omitempty"`
	DurationMillis int64  `json:"duration_ms"`
}

// RawWriter appends JSONL entries to raw.jsonl.
type RawWriter struct {
	path string
}

// NewRawWriter builds a writer for path.
func NewRawWriter(path string) *RawWriter {
	return &RawWriter{path: path}
}

func (w *RawWriter) writeEntry(entry map[string]any) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("logio: marshal raw entry: %w", err)
	}

	f, err := secureAppend(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("logio: write raw entry: %w", err)
	}
	return nil
}

// WriteRequest appends a {type: "request", ...} record.
func (w *RawWriter) WriteRequest(payload any, ts time.Time) error {
	return w.writeEntry(map[string]any{
		"type": RawEventRequest, "timestamp": ts.UTC().Format(time.RFC3339Nano), "payload": payload,
	})
}

// WriteResponse appends a {type: "response", ...} record.
func (w *RawWriter) WriteResponse(payload any, ts time.Time) error {
	return w.writeEntry(map[string]any{
		"type": RawEventResponse, "timestamp": ts.UTC().Format(time.RFC3339Nano), "payload": payload,
	})
}

// WriteStreamChunk appends a {type: "stream_chunk", ...} record.
func (w *RawWriter) WriteStreamChunk(payload any, ts time.Time) error {
	return w.writeEntry(map[string]any{
		"type": RawEventStreamChunk, "timestamp": ts.UTC().Format(time.RFC3339Nano), "payload": payload,
	})
}

// WriteStreamComplete appends a {type: "stream_complete", ...} record
// carrying summary.
func (w *RawWriter) WriteStreamComplete(summary StreamCompleteSummary, ts time.Time) error {
	return w.writeEntry(map[string]any{
		"type": RawEventStreamComplete, "timestamp": ts.UTC().Format(time.RFC3339Nano), "summary": summary,
	})
}
