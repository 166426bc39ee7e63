package builtin

import (
	"context"

	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// nexusCancelSkill cancels an in-progress request on a sibling agent,
// grounded on the original NexusCancelSkill.
type nexusCancelSkill struct {
	services map[string]any
}

// NewNexusCancelSkill is a skills.Factory for nexus_cancel.
func NewNexusCancelSkill(services map[string]any) (skills.Skill, error) {
	return &nexusCancelSkill{services: services}, nil
}

func (s *nexusCancelSkill) Name() string { return "nexus_cancel" }

func (s *nexusCancelSkill) Description() string {
	return "Cancel an in-progress request on a Nexus agent on this server."
}

func (s *nexusCancelSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]any{
				"type":        "string",
				"description": "ID of the agent",
			},
			"request_id": map[string]any{
				"type":        "string",
				"description": "Request ID to cancel (omit to cancel any in-flight request)",
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

func (s *nexusCancelSkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return models.ToolResult{Error: "no agent_id provided"}
	}
	requestID, _ := args["request_id"].(string)

	port := resolvePort(args, s.services)
	token := resolveToken(s.services)

	raw, err := remoteCall(ctx, agentURL(port, agentID), token, "cancel", map[string]any{"request_id": requestID})
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}
	return models.ToolResult{Output: string(raw)}
}
