// Package skills implements NEXUS3's Skill Registry (C6): a name→factory
// map whose entries are wrapped at registration time with name validation
// and JSON-schema argument checking.
package skills

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/nexus3/nexus3/pkg/models"
)

// Skill is one executable tool a provider may invoke.
type Skill interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON schema
	Execute(ctx context.Context, args map[string]any) models.ToolResult
}

// Factory builds a Skill given a services bag (api keys, cwd, pool handle,
// etc. — spec's Agent services map).
type Factory func(services map[string]any) (Skill, error)

// reservedNames may never be used as a registered skill name (spec §4.6).
var reservedNames = map[string]bool{
	"mcp": true, "nexus": true, "system": true, "admin": true,
	"root": true, "true": true, "false": true, "null": true, "none": true,
}

// passthroughKeys are internal argument keys the strict-mode validator
// never rejects even though they're absent from a skill's declared schema.
var passthroughKeys = map[string]bool{
	"_parallel": true,
}

// Registry is a thread-safe name→factory map.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
}

type entry struct {
	factory Factory
	schema  *jsonschema.Schema
	strict  bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// ValidateName checks a skill name against spec §4.6's grammar: 1-64 chars,
// starting with [A-Za-z_], body [A-Za-z0-9_-], not in the reserved set.
func ValidateName(name string) error {
	if len(name) < 1 || len(name) > 64 {
		return fmt.Errorf("skills: name %q must be 1-64 characters", name)
	}
	first := rune(name[0])
	if !(unicode.IsLetter(first) && first < 128 || first == '_') {
		return fmt.Errorf("skills: name %q must start with [A-Za-z_]", name)
	}
	for _, r := range name[1:] {
		if !validBodyRune(r) {
			return fmt.Errorf("skills: name %q contains invalid character %q", name, r)
		}
	}
	if reservedNames[strings.ToLower(name)] {
		return fmt.Errorf("skills: name %q is reserved", name)
	}
	return nil
}

func validBodyRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// NormalizeExternalName normalizes a name sourced from outside the process
// (e.g. an MCP server) per spec §4.6: NFKC normalize, lowercase, non-ASCII
// to underscore, collapse consecutive separators, strip leading/trailing
// separators, prefix a leading digit with underscore, then truncate to
// maxLen (the caller reserves room for any mandatory prefix before calling
// this, e.g. len("mcp_{server}_")).
func NormalizeExternalName(name string, maxLen int) string {
	normalized := norm.NFKC.String(name)
	normalized = strings.ToLower(normalized)

	var b strings.Builder
	lastWasSep := false
	for _, r := range normalized {
		var out rune
		switch {
		case validBodyRune(r) && r != '-':
			out = r
		case r == '-' || r == '_' || unicode.IsSpace(r):
			out = '_'
		default:
			out = '_'
		}
		if out == '_' {
			if lastWasSep {
				continue
			}
			lastWasSep = true
		} else {
			lastWasSep = false
		}
		b.WriteRune(out)
	}

	result := strings.Trim(b.String(), "_")
	if result == "" {
		result = "_"
	}
	if result[0] >= '0' && result[0] <= '9' {
		result = "_" + result
	}
	if maxLen > 0 && len(result) > maxLen {
		result = strings.TrimRight(result[:maxLen], "_")
		if result == "" {
			result = "_"
		}
	}
	return result
}

// Register validates name and compiles schema (a JSON-schema document as a
// map, matching spec's Parameters()), then stores the factory. strict
// controls whether Execute rejects unknown argument keys or silently
// filters them.
func (r *Registry) Register(name string, factory Factory, schema map[string]any, strict bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	compiled, err := compileSchema(name, schema)
	if err != nil {
		return fmt.Errorf("skills: compile schema for %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[strings.ToLower(name)] = entry{factory: factory, schema: compiled, strict: strict}
	return nil
}

// Unregister removes a skill by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, strings.ToLower(name))
}

// Build instantiates the named skill with services, returning a validating
// wrapper whose Execute enforces the registered JSON schema before
// delegating.
func (r *Registry) Build(name string, services map[string]any) (Skill, error) {
	r.mu.RLock()
	e, ok := r.entries[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("skills: unknown skill %q", name)
	}

	skill, err := e.factory(services)
	if err != nil {
		return nil, fmt.Errorf("skills: build %q: %w", name, err)
	}

	return &validatingSkill{inner: skill, schema: e.schema, strict: e.strict}, nil
}

// Names returns every registered skill name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	return out
}

// Definitions builds every registered skill with services and returns its
// name/description/parameters as the flat tool-definition shape a Session
// attaches to its provider requests (spec §4.10 step 1: "system prompt +
// tool definitions"). A skill that fails to build is skipped rather than
// failing the whole batch, since one misconfigured tool (e.g. a missing
// service dependency) shouldn't prevent the agent from using the rest.
func (r *Registry) Definitions(services map[string]any) []map[string]any {
	names := r.Names()
	defs := make([]map[string]any, 0, len(names))
	for _, name := range names {
		skill, err := r.Build(name, services)
		if err != nil {
			continue
		}
		defs = append(defs, map[string]any{
			"name":        skill.Name(),
			"description": skill.Description(),
			"parameters":  skill.Parameters(),
		})
	}
	return defs
}
