package builtin

import (
	"context"
	"encoding/json"

	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// nexusStatusSkill combines get_tokens and get_context into a single status
// check of a sibling agent, grounded on the original NexusStatusSkill.
type nexusStatusSkill struct {
	services map[string]any
}

// NewNexusStatusSkill is a skills.Factory for nexus_status.
func NewNexusStatusSkill(services map[string]any) (skills.Skill, error) {
	return &nexusStatusSkill{services: services}, nil
}

func (s *nexusStatusSkill) Name() string { return "nexus_status" }

func (s *nexusStatusSkill) Description() string {
	return "Get status of a Nexus agent on this server (token usage and context length)."
}

func (s *nexusStatusSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]any{
				"type":        "string",
				"description": "ID of the agent (e.g. \"worker-1\")",
			},
			"port": map[string]any{
				"type":        "integer",
				"description": "Server port (defaults to this agent's own server)",
			},
		},
		"required":             []any{"agent_id"},
		"additionalProperties": false,
	}
}

func (s *nexusStatusSkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return models.ToolResult{Error: "no agent_id provided"}
	}

	port := resolvePort(args, s.services)
	token := resolveToken(s.services)
	url := agentURL(port, agentID)

	tokens, err := remoteCall(ctx, url, token, "get_tokens", map[string]any{})
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}
	ctxInfo, err := remoteCall(ctx, url, token, "get_context", map[string]any{})
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}

	out, err := json.MarshalIndent(map[string]any{
		"tokens":  json.RawMessage(tokens),
		"context": json.RawMessage(ctxInfo),
	}, "", "  ")
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}
	return models.ToolResult{Output: string(out)}
}
