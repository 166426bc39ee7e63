package agent

import (
	"context"
	"testing"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// writeSkill classifies itself as a destructive write against a path,
// exercising the optional actionClassifier/pathExtractor capabilities.
type writeSkill struct {
	executed *int
}

func (writeSkill) Name() string               { return "write_file" }
func (writeSkill) Description() string        { return "writes a file" }
func (writeSkill) Parameters() map[string]any { return nil }
func (s writeSkill) Action() permission.Action { return permission.ActionWrite }
func (writeSkill) Path(args map[string]any) string {
	p, _ := args["path"].(string)
	return p
}
func (s writeSkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	if s.executed != nil {
		*s.executed++
	}
	return models.ToolResult{Output: "ok"}
}

func registerWrite(t *testing.T, executed *int) *skills.Registry {
	t.Helper()
	reg := skills.New()
	if err := reg.Register("write_file", func(services map[string]any) (skills.Skill, error) {
		return writeSkill{executed: executed}, nil
	}, nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func failingSkill(name string) skills.Factory {
	return func(services map[string]any) (skills.Skill, error) {
		return failSkill{name: name}, nil
	}
}

type failSkill struct{ name string }

func (f failSkill) Name() string               { return f.name }
func (failSkill) Description() string          { return "" }
func (failSkill) Parameters() map[string]any   { return nil }
func (failSkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	return models.ToolResult{Error: "boom"}
}

func TestSandboxedPolicyDeniesDisabledTool(t *testing.T) {
	reg := registerWrite(t, nil)
	pol := permission.New(models.AgentPermissions{Level: models.PermissionSandboxed})
	s := newTestSession(t, &fakeProvider{}, reg, pol)

	results := s.executeToolCalls(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "/tmp/x"}},
	})
	if len(results) != 1 || results[0].result.Success() {
		t.Fatalf("expected a denial, got %+v", results)
	}
}

func TestNilPolicyFailsClosed(t *testing.T) {
	var executed int
	reg := registerWrite(t, &executed)
	s := newTestSession(t, &fakeProvider{}, reg, nil)

	results := s.executeToolCalls(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "/tmp/x"}},
	})
	if results[0].result.Success() {
		t.Fatal("expected fail-closed denial with no policy configured")
	}
	if executed != 0 {
		t.Fatal("skill must not run when there is no policy")
	}
}

func TestTrustedRequiresConfirmationForDestructiveAction(t *testing.T) {
	var executed int
	reg := registerWrite(t, &executed)
	pol := permission.New(models.AgentPermissions{Level: models.PermissionTrusted})

	s := newTestSession(t, &fakeProvider{}, reg, pol)
	var askedWith models.ToolCall
	s.confirm = func(ctx context.Context, call models.ToolCall) (models.ConfirmationResult, error) {
		askedWith = call
		return models.ConfirmAllowOnce, nil
	}

	results := s.executeToolCalls(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "/tmp/x"}},
	})
	if !results[0].result.Success() {
		t.Fatalf("expected success after AllowOnce, got %+v", results[0].result)
	}
	if askedWith.ID != "c1" {
		t.Fatal("on_confirm was not invoked with the pending call")
	}
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}
}

func TestConfirmationDenyProducesCancelledByUser(t *testing.T) {
	var executed int
	reg := registerWrite(t, &executed)
	pol := permission.New(models.AgentPermissions{Level: models.PermissionTrusted})

	s := newTestSession(t, &fakeProvider{}, reg, pol)
	s.confirm = func(ctx context.Context, call models.ToolCall) (models.ConfirmationResult, error) {
		return models.ConfirmDeny, nil
	}

	results := s.executeToolCalls(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "/tmp/x"}},
	})
	if results[0].result.Error != "cancelled by user" {
		t.Fatalf("error = %q, want %q", results[0].result.Error, "cancelled by user")
	}
	if executed != 0 {
		t.Fatal("a denied call must not execute the skill")
	}
}

func TestAllowFileScopeSkipsReconfirmation(t *testing.T) {
	var executed int
	reg := registerWrite(t, &executed)
	pol := permission.New(models.AgentPermissions{Level: models.PermissionTrusted})

	s := newTestSession(t, &fakeProvider{}, reg, pol)
	asks := 0
	s.confirm = func(ctx context.Context, call models.ToolCall) (models.ConfirmationResult, error) {
		asks++
		return models.ConfirmAllowFile, nil
	}

	call := models.ToolCall{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "/tmp/x"}}
	s.executeToolCalls(context.Background(), []models.ToolCall{call})

	call2 := models.ToolCall{ID: "c2", Name: "write_file", Arguments: map[string]any{"path": "/tmp/x"}}
	s.executeToolCalls(context.Background(), []models.ToolCall{call2})

	if asks != 1 {
		t.Fatalf("asks = %d, want 1 (second call should reuse the widened file scope)", asks)
	}
	if executed != 2 {
		t.Fatalf("executed = %d, want 2", executed)
	}
}

func TestUnknownSkillInBatch(t *testing.T) {
	s := newTestSession(t, &fakeProvider{}, skills.New(), yoloPolicy())
	results := s.executeToolCalls(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "ghost"},
	})
	if results[0].result.Success() {
		t.Fatal("expected an error result for an unregistered skill")
	}
}

func TestSequentialBatchHaltsOnFirstFailure(t *testing.T) {
	reg := skills.New()
	_ = reg.Register("fails", failingSkill("fails"), nil, false)
	_ = reg.Register("echo", func(services map[string]any) (skills.Skill, error) {
		return &echoSkill{}, nil
	}, nil, false)

	s := newTestSession(t, &fakeProvider{}, reg, yoloPolicy())
	results := s.executeToolCalls(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "fails"},
		{ID: "c2", Name: "echo", Arguments: map[string]any{"text": "x"}},
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].result.Success() {
		t.Fatal("first call should have failed")
	}
	if results[1].result.Success() {
		t.Fatal("second call should be reported as halted, not succeeded")
	}
	if results[1].result.Error != "halted: preceding tool in batch failed" {
		t.Fatalf("second result = %+v, want a halted error", results[1].result)
	}
}

func TestParallelBatchRunsAllSiblingsDespiteFailure(t *testing.T) {
	reg := skills.New()
	_ = reg.Register("fails", failingSkill("fails"), nil, false)
	_ = reg.Register("echo", func(services map[string]any) (skills.Skill, error) {
		return &echoSkill{}, nil
	}, nil, false)

	s := newTestSession(t, &fakeProvider{}, reg, yoloPolicy())
	results := s.executeToolCalls(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "fails", Arguments: map[string]any{"_parallel": true}},
		{ID: "c2", Name: "echo", Arguments: map[string]any{"text": "x", "_parallel": true}},
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.name == "echo" && !r.result.Success() {
			t.Fatal("a parallel batch must run every sibling regardless of another's failure")
		}
	}
}
