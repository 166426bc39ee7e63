// Package providers implements concrete agent.LLMProvider integrations.
// NEXUS3 ships one: an OpenAI-compatible chat-completions streamer, since
// that wire format is also spoken by most self-hosted and proxy backends
// (Ollama, OpenRouter, vLLM, ...), so one implementation covers the common
// case without committing to a vendor SDK.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nexus3/nexus3/internal/agent"
	"github.com/nexus3/nexus3/pkg/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures a new OpenAIProvider.
type Config struct {
	APIKey  string
	BaseURL string // defaults to defaultBaseURL
	Model   string
	Client  *http.Client // defaults to a client with a 120s timeout
}

// OpenAIProvider implements agent.LLMProvider against an OpenAI-compatible
// /chat/completions streaming endpoint.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client

	maxRetries int
	retryDelay time.Duration
}

// New constructs an OpenAIProvider.
func New(cfg Config) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAIProvider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		client:     client,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Close releases the provider's idle HTTP connections. Satisfies io.Closer
// for the server's shutdown sequence (spec §4.14: "close the provider's
// HTTP clients").
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// HTTPError is returned when the endpoint answers with a non-2xx status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("providers: openai: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request that produced e is worth retrying:
// rate limiting and server-side failures are, client errors (bad request,
// auth) are not.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Stream opens a chat-completions stream and normalizes it into the
// models.StreamEvent vocabulary Session consumes.
func (p *OpenAIProvider) Stream(ctx context.Context, req agent.CompletionRequest) (<-chan models.StreamEvent, error) {
	body := p.buildRequestBody(req)

	respBody, err := p.openStreamWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan models.StreamEvent)
	go p.consumeStream(respBody, events)
	return events, nil
}

func (p *OpenAIProvider) buildRequestBody(req agent.CompletionRequest) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{"role": string(m.Role)}

		// Omit content for an assistant message that carries tool calls and
		// no text: some OpenAI-compatible backends reject an empty string
		// there rather than treating it as "no text this turn".
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}

		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(tc.RawArguments()),
					},
				}
			}
			msg["tool_calls"] = calls
		}

		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}

		msgs = append(msgs, msg)
	}

	body := map[string]any{
		"model":    p.model,
		"messages": msgs,
		"stream":   true,
	}
	if len(req.Tools) > 0 {
		body["tools"] = p.convertTools(req.Tools)
		body["tool_choice"] = "auto"
	}
	return body
}

// convertTools wraps NEXUS3's flat {name, description, parameters} tool
// definitions in the {"type":"function","function":{...}} envelope OpenAI's
// wire format requires.
func (p *OpenAIProvider) convertTools(tools []map[string]any) []map[string]any {
	out := make([]map[string]any, len(tools))
	for i, t := range tools {
		out[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t["name"],
				"description": t["description"],
				"parameters":  t["parameters"],
			},
		}
	}
	return out
}

func (p *OpenAIProvider) openStreamWithRetry(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("providers: openai: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		respBody, err := p.doRequest(ctx, data)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !httpErr.Retryable() {
			return nil, err
		}
	}
	return nil, fmt.Errorf("providers: openai: max retries exceeded: %w", lastErr)
}

func (p *OpenAIProvider) doRequest(ctx context.Context, data []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("providers: openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers: openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}

// streamChunk is the wire shape of one "data: {...}" SSE line.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// toolCallBuilder accumulates one tool call's streamed fragments (id, name,
// and JSON-argument chunks) across SSE events until the stream ends.
type toolCallBuilder struct {
	id      string
	name    string
	rawArgs strings.Builder
}

// consumeStream reads body's SSE lines, emits content/reasoning deltas and
// tool-call-started notifications as they arrive, and emits exactly one
// EventStreamComplete carrying the fully assembled assistant message once
// the stream ends. A read error simply closes the channel without a
// completion event, which Session surfaces as "stream ended without
// completion event".
func (p *OpenAIProvider) consumeStream(body io.ReadCloser, events chan<- models.StreamEvent) {
	defer close(events)
	defer body.Close()

	var content strings.Builder
	builders := make(map[int]*toolCallBuilder)
	order := make([]int, 0, 4)
	started := make(map[int]bool)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			events <- models.StreamEvent{Kind: models.EventContentDelta, Text: delta.Content}
		}
		if delta.ReasoningContent != "" {
			events <- models.StreamEvent{Kind: models.EventReasoningDelta, Text: delta.ReasoningContent}
		}

		for _, tc := range delta.ToolCalls {
			b, ok := builders[tc.Index]
			if !ok {
				b = &toolCallBuilder{}
				builders[tc.Index] = b
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				b.rawArgs.WriteString(tc.Function.Arguments)
			}
			if !started[tc.Index] && b.id != "" && b.name != "" {
				started[tc.Index] = true
				events <- models.StreamEvent{
					Kind:          models.EventToolCallStarted,
					ToolCallIndex: tc.Index,
					ToolCallID:    b.id,
					ToolCallName:  b.name,
				}
			}
		}
	}
	if scanner.Err() != nil {
		return
	}

	final := &models.Message{Role: models.RoleAssistant, Content: content.String()}
	for _, index := range order {
		b := builders[index]
		if b.id == "" || b.name == "" {
			continue
		}
		final.ToolCalls = append(final.ToolCalls, decodeToolCall(b))
	}
	events <- models.StreamEvent{Kind: models.EventStreamComplete, Final: final}
}

// decodeToolCall parses a builder's accumulated argument fragments as JSON.
// On malformed JSON (a provider anomaly), the raw fragment is preserved
// under "_raw_arguments" rather than silently discarded (pkg/models.ToolCall
// doc).
func decodeToolCall(b *toolCallBuilder) models.ToolCall {
	raw := b.rawArgs.String()
	args := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = map[string]any{"_raw_arguments": raw}
		}
	}
	return models.ToolCall{ID: b.id, Name: b.name, Arguments: args}
}
