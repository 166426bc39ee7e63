package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexus3/nexus3/internal/rpc"
)

func TestNexusStatusCombinesTokensAndContext(t *testing.T) {
	srv := fakeServer(t, "", func(method string, params json.RawMessage) (any, *rpc.Error) {
		switch method {
		case "get_tokens":
			return map[string]any{"total": 42}, nil
		case "get_context":
			return []any{}, nil
		default:
			t.Fatalf("unexpected method %q", method)
			return nil, nil
		}
	})
	defer srv.Close()

	skill, _ := NewNexusStatusSkill(map[string]any{})
	result := skill.Execute(context.Background(), map[string]any{
		"agent_id": "worker-1",
		"port":     float64(portOf(t, srv)),
	})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Output), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if _, ok := decoded["tokens"]; !ok {
		t.Error("expected tokens key in combined status")
	}
	if _, ok := decoded["context"]; !ok {
		t.Error("expected context key in combined status")
	}
}

func TestNexusStatusRejectsMissingAgentID(t *testing.T) {
	skill, _ := NewNexusStatusSkill(map[string]any{})
	if r := skill.Execute(context.Background(), map[string]any{}); r.Error == "" {
		t.Error("expected error for missing agent_id")
	}
}

func TestNexusCancelCancelsInFlightRequest(t *testing.T) {
	var gotRequestID string
	srv := fakeServer(t, "", func(method string, params json.RawMessage) (any, *rpc.Error) {
		if method != "cancel" {
			t.Fatalf("unexpected method %q", method)
		}
		var p struct {
			RequestID string `json:"request_id"`
		}
		_ = json.Unmarshal(params, &p)
		gotRequestID = p.RequestID
		return map[string]any{"cancelled": true}, nil
	})
	defer srv.Close()

	skill, _ := NewNexusCancelSkill(map[string]any{})
	result := skill.Execute(context.Background(), map[string]any{
		"agent_id":   "worker-1",
		"request_id": "req-7",
		"port":       float64(portOf(t, srv)),
	})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if gotRequestID != "req-7" {
		t.Errorf("request_id sent = %q, want %q", gotRequestID, "req-7")
	}
}

func TestNexusDestroyCallsGlobalEndpoint(t *testing.T) {
	var gotAgentID string
	srv := fakeServer(t, "", func(method string, params json.RawMessage) (any, *rpc.Error) {
		if method != "destroy_agent" {
			t.Fatalf("unexpected method %q", method)
		}
		var p struct {
			AgentID string `json:"agent_id"`
		}
		_ = json.Unmarshal(params, &p)
		gotAgentID = p.AgentID
		return map[string]any{"destroyed": true}, nil
	})
	defer srv.Close()

	skill, _ := NewNexusDestroySkill(map[string]any{})
	result := skill.Execute(context.Background(), map[string]any{
		"agent_id": "worker-1",
		"port":     float64(portOf(t, srv)),
	})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if gotAgentID != "worker-1" {
		t.Errorf("agent_id sent = %q, want %q", gotAgentID, "worker-1")
	}
}

func TestNexusShutdownCallsGlobalEndpoint(t *testing.T) {
	called := false
	srv := fakeServer(t, "", func(method string, params json.RawMessage) (any, *rpc.Error) {
		if method != "shutdown_server" {
			t.Fatalf("unexpected method %q", method)
		}
		called = true
		return map[string]any{"shutting_down": true}, nil
	})
	defer srv.Close()

	skill, _ := NewNexusShutdownSkill(map[string]any{})
	result := skill.Execute(context.Background(), map[string]any{"port": float64(portOf(t, srv))})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if !called {
		t.Error("expected shutdown_server to be invoked")
	}
}

func TestResolvePortPrefersArgOverServices(t *testing.T) {
	got := resolvePort(map[string]any{"port": float64(9999)}, map[string]any{"port": 1111})
	if got != 9999 {
		t.Errorf("resolvePort = %d, want 9999", got)
	}
}

func TestResolvePortFallsBackToServicesThenDefault(t *testing.T) {
	if got := resolvePort(map[string]any{}, map[string]any{"port": 1111}); got != 1111 {
		t.Errorf("resolvePort = %d, want 1111", got)
	}
	if got := resolvePort(map[string]any{}, map[string]any{}); got != defaultPort {
		t.Errorf("resolvePort = %d, want %d", got, defaultPort)
	}
}
