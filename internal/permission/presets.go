package permission

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexus3/nexus3/pkg/models"
)

//go:embed presets.yaml
var presetsYAML []byte

// presetDoc mirrors the on-disk shape of presets.yaml.
type presetDoc struct {
	Presets map[string]struct {
		Level          string         `yaml:"level"`
		DefaultTimeout string         `yaml:"default_timeout"`
		AllowedPaths   []string       `yaml:"allowed_paths"`
		BlockedPaths   []string       `yaml:"blocked_paths"`
		Overrides      map[string]struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"overrides"`
	} `yaml:"presets"`
}

// Presets returns the built-in Yolo/Trusted/Sandboxed permission presets
// decoded from the embedded presets.yaml, keyed by preset name.
func Presets() (map[string]models.AgentPermissions, error) {
	var doc presetDoc
	if err := yaml.Unmarshal(presetsYAML, &doc); err != nil {
		return nil, fmt.Errorf("permission: decode embedded presets: %w", err)
	}

	out := make(map[string]models.AgentPermissions, len(doc.Presets))
	for name, raw := range doc.Presets {
		perm := models.AgentPermissions{
			Level:        models.NormalizePermissionPreset(raw.Level),
			AllowedPaths: raw.AllowedPaths,
			BlockedPaths: raw.BlockedPaths,
		}
		if raw.DefaultTimeout != "" {
			d, err := time.ParseDuration(raw.DefaultTimeout)
			if err != nil {
				return nil, fmt.Errorf("permission: preset %q default_timeout: %w", name, err)
			}
			perm.DefaultTimeout = d
		}
		if len(raw.Overrides) > 0 {
			perm.Overrides = make(map[string]models.ToolOverride, len(raw.Overrides))
			for tool, ov := range raw.Overrides {
				var entry models.ToolOverride
				if ov.Enabled != nil {
					entry.EnabledSet = true
					entry.Enabled = *ov.Enabled
				}
				if ov.Timeout != "" {
					d, err := time.ParseDuration(ov.Timeout)
					if err != nil {
						return nil, fmt.Errorf("permission: preset %q tool %q timeout: %w", name, tool, err)
					}
					entry.Timeout = d
				}
				perm.Overrides[tool] = entry
			}
		}
		out[name] = perm
	}
	return out, nil
}

// MustPresets is Presets but panics on decode failure. Safe to call at
// package init time since presets.yaml is embedded and validated by tests.
func MustPresets() map[string]models.AgentPermissions {
	p, err := Presets()
	if err != nil {
		panic(err)
	}
	return p
}
