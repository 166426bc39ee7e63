package permission

import (
	"testing"
	"time"

	"github.com/nexus3/nexus3/pkg/models"
)

func TestYoloAllowsEverythingNoConfirmation(t *testing.T) {
	p := New(models.AgentPermissions{Level: models.PermissionYolo})
	d := p.Evaluate("delete_file", ActionDelete, "/tmp/anything")
	if !d.Allowed || d.RequiresConfirmation {
		t.Fatalf("yolo: got %+v", d)
	}
}

func TestTrustedRequiresConfirmationForDestructive(t *testing.T) {
	p := New(models.AgentPermissions{Level: models.PermissionTrusted})

	d := p.Evaluate("read_file", ActionRead, "")
	if !d.Allowed || d.RequiresConfirmation {
		t.Fatalf("trusted read: got %+v", d)
	}

	d = p.Evaluate("write_file", ActionWrite, "")
	if !d.Allowed || !d.RequiresConfirmation {
		t.Fatalf("trusted write: got %+v", d)
	}
}

func TestTrustedPathAllowlist(t *testing.T) {
	p := New(models.AgentPermissions{
		Level:        models.PermissionTrusted,
		AllowedPaths: []string{"/workspace"},
	})

	d := p.Evaluate("write_file", ActionWrite, "/workspace/foo.txt")
	if !d.Allowed {
		t.Fatalf("expected allowed under allowlist, got %+v", d)
	}

	d = p.Evaluate("write_file", ActionWrite, "/etc/passwd")
	if d.Allowed {
		t.Fatalf("expected denied outside allowlist, got %+v", d)
	}
}

func TestBlockedPathOverridesAllowed(t *testing.T) {
	p := New(models.AgentPermissions{
		Level:        models.PermissionTrusted,
		AllowedPaths: []string{"/workspace"},
		BlockedPaths: []string{"/workspace/secrets"},
	})

	d := p.Evaluate("read_file", ActionRead, "/workspace/secrets/key.pem")
	if d.Allowed {
		t.Fatalf("expected blocked path to override allowlist, got %+v", d)
	}
}

func TestSandboxedDisabledTool(t *testing.T) {
	p := New(models.AgentPermissions{Level: models.PermissionSandboxed})
	d := p.Evaluate("exec", ActionExecute, "")
	if d.Allowed {
		t.Fatalf("expected exec disabled for sandboxed, got %+v", d)
	}
}

func TestSandboxedDeniesNetwork(t *testing.T) {
	p := New(models.AgentPermissions{Level: models.PermissionSandboxed})
	d := p.Evaluate("web_fetch_custom", ActionNetwork, "")
	if d.Allowed {
		t.Fatalf("expected network denied for sandboxed, got %+v", d)
	}
	if p.CanNetwork() {
		t.Fatal("expected CanNetwork false for sandboxed")
	}
}

func TestSandboxedDefaultsToCwd(t *testing.T) {
	p := New(models.AgentPermissions{Level: models.PermissionSandboxed})

	d := p.Evaluate("read_file", ActionRead, "./notes.txt")
	if !d.Allowed {
		t.Fatalf("expected cwd-relative path allowed by default, got %+v", d)
	}

	d = p.Evaluate("read_file", ActionRead, "/etc/passwd")
	if d.Allowed {
		t.Fatalf("expected path outside cwd denied, got %+v", d)
	}
}

func TestPerToolOverrideDisablesRegardlessOfLevel(t *testing.T) {
	p := New(models.AgentPermissions{
		Level: models.PermissionYolo,
		Overrides: map[string]models.ToolOverride{
			"dangerous_tool": {EnabledSet: true, Enabled: false},
		},
	})

	d := p.Evaluate("dangerous_tool", ActionRead, "")
	if d.Allowed {
		t.Fatalf("expected per-tool override to disable even under yolo, got %+v", d)
	}
}

func TestCaseInsensitiveActionMatching(t *testing.T) {
	if !IsDestructive("WRITE") {
		t.Fatal("expected case-insensitive destructive match")
	}
	if !IsSafe("Read") {
		t.Fatal("expected case-insensitive safe match")
	}
}

func TestToolTimeoutOverrideWinsOverDefault(t *testing.T) {
	p := New(models.AgentPermissions{
		Level:          models.PermissionTrusted,
		DefaultTimeout: 2 * time.Minute,
		Overrides: map[string]models.ToolOverride{
			"exec": {Timeout: 5 * time.Minute},
		},
	})

	d, ok := p.ToolTimeout("exec")
	if !ok || d != 5*time.Minute {
		t.Fatalf("expected override timeout 5m, got %v ok=%v", d, ok)
	}

	d, ok = p.ToolTimeout("read_file")
	if !ok || d != 2*time.Minute {
		t.Fatalf("expected default timeout 2m, got %v ok=%v", d, ok)
	}
}

func TestPresetsDecodeEmbedded(t *testing.T) {
	presets, err := Presets()
	if err != nil {
		t.Fatalf("Presets() error: %v", err)
	}
	for _, name := range []string{"yolo", "trusted", "sandboxed"} {
		if _, ok := presets[name]; !ok {
			t.Fatalf("expected preset %q to be present", name)
		}
	}
	if presets["sandboxed"].Level != models.PermissionSandboxed {
		t.Fatalf("expected sandboxed preset level, got %v", presets["sandboxed"].Level)
	}
	if ov := presets["sandboxed"].Overrides["exec"]; !ov.EnabledSet || ov.Enabled {
		t.Fatalf("expected sandboxed exec override disabled, got %+v", ov)
	}
}
