package builtin

import (
	"context"

	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// nexusDestroySkill removes a sibling agent from the pool without stopping
// the server, grounded on the original NexusDestroySkill.
type nexusDestroySkill struct {
	services map[string]any
}

// NewNexusDestroySkill is a skills.Factory for nexus_destroy.
func NewNexusDestroySkill(services map[string]any) (skills.Skill, error) {
	return &nexusDestroySkill{services: services}, nil
}

func (s *nexusDestroySkill) Name() string { return "nexus_destroy" }

func (s *nexusDestroySkill) Description() string {
	return "Destroy an agent on the Nexus server (the server keeps running)."
}

func (s *nexusDestroySkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]any{
				"type":        "string",
				"description": "ID of the agent to destroy",
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

func (s *nexusDestroySkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return models.ToolResult{Error: "no agent_id provided"}
	}

	port := resolvePort(args, s.services)
	token := resolveToken(s.services)

	raw, err := remoteCall(ctx, globalURL(port), token, "destroy_agent", map[string]any{"agent_id": agentID})
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}
	return models.ToolResult{Output: string(raw)}
}
