package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexus3/nexus3/internal/agent"
	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

var errBoom = errors.New("boom")

// staticProvider replies with a single plain-text turn on every call, enough
// to drive Session through one full iteration without touching a real LLM.
type staticProvider struct{}

func (staticProvider) Stream(ctx context.Context, req agent.CompletionRequest) (<-chan models.StreamEvent, error) {
	ch := make(chan models.StreamEvent, 1)
	ch <- models.StreamEvent{
		Kind:  models.EventStreamComplete,
		Final: &models.Message{Role: models.RoleAssistant, Content: "ok"},
	}
	close(ch)
	return ch, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Provider:   staticProvider{},
		BaseLogDir: t.TempDir(),
		Now:        func() time.Time { return time.Unix(1000, 0).UTC() },
	}
}

func TestCreateBuildsLiveAgent(t *testing.T) {
	p := New(testConfig(t))

	a, err := p.Create("alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID != "alice" || a.IsTemp {
		t.Fatalf("unexpected agent: %+v", a)
	}

	got, ok := p.Get("alice")
	if !ok || got != a {
		t.Fatal("Get did not return the created agent")
	}
}

func TestCreateDefaultsToSandboxedPreset(t *testing.T) {
	p := New(testConfig(t))
	a, err := p.Create("alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Policy.Level() != models.PermissionSandboxed {
		t.Fatalf("policy level = %q, want sandboxed", a.Policy.Level())
	}
	if a.Policy.CanNetwork() {
		t.Fatal("expected the sandboxed preset's web_fetch/web_search override to disable networking")
	}
}

func TestCreateWithPermissionsOverridesDefault(t *testing.T) {
	p := New(testConfig(t))
	a, err := p.CreateWithPermissions("alice", models.AgentPermissions{Level: models.PermissionYolo})
	if err != nil {
		t.Fatalf("CreateWithPermissions: %v", err)
	}
	if a.Policy.Level() != models.PermissionYolo {
		t.Fatalf("policy level = %q, want yolo", a.Policy.Level())
	}
}

func TestCreateRejectsInvalidName(t *testing.T) {
	p := New(testConfig(t))
	if _, err := p.Create("../escape"); err == nil {
		t.Fatal("expected invalid name to be rejected")
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	p := New(testConfig(t))
	if _, err := p.Create("alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.Create("alice"); err == nil {
		t.Fatal("expected duplicate Create to fail")
	}
}

func TestTempAgentIsClassifiedCorrectly(t *testing.T) {
	p := New(testConfig(t))
	a, err := p.Create(".1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !a.IsTemp {
		t.Fatal("expected .1 to be classified as a temp agent")
	}
}

func TestDestroyRemovesFromPoolAndIsIdempotent(t *testing.T) {
	p := New(testConfig(t))
	if _, err := p.Create("alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := p.Destroy("alice"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, ok := p.Get("alice"); ok {
		t.Fatal("expected agent to be gone after Destroy")
	}
	if err := p.Destroy("alice"); err != nil {
		t.Fatalf("Destroy on an already-gone agent should be a no-op: %v", err)
	}
}

func TestListReportsSnapshot(t *testing.T) {
	p := New(testConfig(t))
	if _, err := p.Create("alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.Create("bob"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list := p.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(list))
	}
	byID := make(map[string]Snapshot)
	for _, s := range list {
		byID[s.AgentID] = s
	}
	if _, ok := byID["alice"]; !ok {
		t.Fatal("expected alice in snapshot")
	}
	if _, ok := byID["bob"]; !ok {
		t.Fatal("expected bob in snapshot")
	}
}

func TestRestoreFromSavedAppliesPermissionOverrides(t *testing.T) {
	p := New(testConfig(t))
	saved := models.SavedSession{
		AgentID:         "restored",
		CreatedAt:       time.Unix(500, 0).UTC(),
		SystemPrompt:    "be helpful",
		Messages:        []models.Message{{Role: models.RoleUser, Content: "hi"}},
		PermissionLevel: models.PermissionTrusted,
		DisabledTools:   []string{"shell"},
	}

	a, err := p.RestoreFromSaved(saved)
	if err != nil {
		t.Fatalf("RestoreFromSaved: %v", err)
	}
	if a.CreatedAt != saved.CreatedAt {
		t.Fatal("expected CreatedAt to be preserved from the saved snapshot")
	}
	if len(a.Convo.Messages()) != 1 {
		t.Fatalf("expected restored history to carry over, got %d messages", len(a.Convo.Messages()))
	}
}

func TestRestoreFromSavedRejectsDuplicateAgentID(t *testing.T) {
	p := New(testConfig(t))
	if _, err := p.Create("alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := p.RestoreFromSaved(models.SavedSession{AgentID: "alice", CreatedAt: time.Now()})
	if err == nil {
		t.Fatal("expected RestoreFromSaved to reject an already-live agent id")
	}
}

func TestInstallSkillsFailureIsPropagatedAndStorageClosed(t *testing.T) {
	cfg := testConfig(t)
	wantErr := errBoom
	cfg.InstallSkills = func(reg *skills.Registry, services map[string]any) error {
		return wantErr
	}
	p := New(cfg)

	if _, err := p.Create("alice"); err == nil {
		t.Fatal("expected Create to fail when InstallSkills fails")
	}
	if _, ok := p.Get("alice"); ok {
		t.Fatal("a failed Create must not leave a partially built agent in the pool")
	}
}
