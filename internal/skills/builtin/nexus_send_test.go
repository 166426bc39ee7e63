package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/nexus3/nexus3/internal/rpc"
)

// fakeServer stands in for a NEXUS3 HTTP server: it decodes a JSON-RPC
// request and calls handle to build the result payload (or an error).
func fakeServer(t *testing.T, wantToken string, handle func(method string, params json.RawMessage) (any, *rpc.Error)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantToken != "" && r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req rpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		payload, rpcErr := handle(req.Method, req.Params)
		resp := rpc.Response{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			data, _ := json.Marshal(payload)
			resp.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func portOf(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return port
}

func TestNexusSendReturnsAgentResponse(t *testing.T) {
	srv := fakeServer(t, "secret", func(method string, params json.RawMessage) (any, *rpc.Error) {
		if method != "send" {
			t.Fatalf("unexpected method %q", method)
		}
		return map[string]any{"content": "hello back", "halted_at_iteration_limit": false}, nil
	})
	defer srv.Close()

	skill, _ := NewNexusSendSkill(map[string]any{"token": "secret"})
	result := skill.Execute(context.Background(), map[string]any{
		"agent_id": "worker-1",
		"content":  "hi",
		"port":     float64(portOf(t, srv)),
	})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Output), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded["content"] != "hello back" {
		t.Errorf("content = %v, want %q", decoded["content"], "hello back")
	}
}

func TestNexusSendAppendsHaltWarning(t *testing.T) {
	srv := fakeServer(t, "", func(method string, params json.RawMessage) (any, *rpc.Error) {
		return map[string]any{"content": "partial", "halted_at_iteration_limit": true}, nil
	})
	defer srv.Close()

	skill, _ := NewNexusSendSkill(map[string]any{})
	result := skill.Execute(context.Background(), map[string]any{
		"agent_id": "worker-1",
		"content":  "hi",
		"port":     float64(portOf(t, srv)),
	})

	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Output), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	content, _ := decoded["content"].(string)
	if !strings.Contains(content, "WARNING") {
		t.Errorf("content = %q, want a halt warning appended", content)
	}
}

func TestNexusSendRejectsMissingArgs(t *testing.T) {
	skill, _ := NewNexusSendSkill(map[string]any{})

	if r := skill.Execute(context.Background(), map[string]any{"content": "hi"}); r.Error == "" {
		t.Error("expected error for missing agent_id")
	}
	if r := skill.Execute(context.Background(), map[string]any{"agent_id": "worker-1"}); r.Error == "" {
		t.Error("expected error for missing content")
	}
}

func TestNexusSendSurfacesRemoteError(t *testing.T) {
	srv := fakeServer(t, "", func(method string, params json.RawMessage) (any, *rpc.Error) {
		return nil, &rpc.Error{Code: rpc.ErrCodeAgentNotFound, Message: "agent not found: worker-1"}
	})
	defer srv.Close()

	skill, _ := NewNexusSendSkill(map[string]any{})
	result := skill.Execute(context.Background(), map[string]any{
		"agent_id": "worker-1",
		"content":  "hi",
		"port":     float64(portOf(t, srv)),
	})
	if result.Error == "" {
		t.Fatal("expected error result")
	}
}
