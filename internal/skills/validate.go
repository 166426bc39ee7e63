package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nexus3/nexus3/pkg/models"
)

const schemaResourceURL = "nexus3://skill-schema"

// compileSchema compiles a skill's declared JSON-schema Parameters() map.
// A nil/empty schema is treated as "accepts anything".
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	resourceURL := schemaResourceURL + "/" + name
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// declaredProperties extracts the top-level "properties" keys from the raw
// schema document, used by the strict-mode unknown-key filter.
func declaredProperties(schema *jsonschema.Schema) map[string]bool {
	out := make(map[string]bool)
	if schema == nil {
		return out
	}
	for name := range schema.Properties {
		out[name] = true
	}
	return out
}

// validatingSkill wraps a Skill so that Execute validates args against the
// registered JSON schema before delegating, per spec §4.6: validate
// required/types/enums/min/max, filter unknown keys (non-strict) or reject
// them (strict) except for the _parallel-style passthrough whitelist, and
// report failures as an error ToolResult rather than panicking.
type validatingSkill struct {
	inner  Skill
	schema *jsonschema.Schema
	strict bool
}

func (v *validatingSkill) Name() string               { return v.inner.Name() }
func (v *validatingSkill) Description() string        { return v.inner.Description() }
func (v *validatingSkill) Parameters() map[string]any { return v.inner.Parameters() }

// Unwrap exposes the wrapped Skill so callers outside this package can
// recover optional capabilities (permission action/path classification)
// that a type assertion on the wrapper itself would otherwise hide.
func (v *validatingSkill) Unwrap() Skill { return v.inner }

func (v *validatingSkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	cleaned, err := v.prepareArgs(args)
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}
	return v.inner.Execute(ctx, cleaned)
}

func (v *validatingSkill) prepareArgs(args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}

	// No declared schema means the skill accepts arbitrary arguments: there
	// is nothing to filter or validate against.
	if v.schema == nil {
		return args, nil
	}

	declared := declaredProperties(v.schema)
	cleaned := make(map[string]any, len(args))
	for k, val := range args {
		if declared[k] || passthroughKeys[k] {
			cleaned[k] = val
			continue
		}
		if v.strict {
			return nil, fmt.Errorf("skills: %s: unknown argument %q", v.inner.Name(), k)
		}
		// non-strict: silently filtered
	}

	if err := v.schema.Validate(toValidatable(cleaned)); err != nil {
		return nil, fmt.Errorf("skills: %s: invalid arguments: %w", v.inner.Name(), err)
	}

	return cleaned, nil
}

// toValidatable round-trips through JSON so numeric types match what
// jsonschema's validator expects (json.Number / float64 semantics) rather
// than whatever Go-native numeric types the caller happened to pass.
func toValidatable(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return args
	}
	return v
}
