package builtin

import (
	"context"

	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// nexusShutdownSkill requests graceful shutdown of the whole server,
// grounded on the original NexusShutdownSkill.
type nexusShutdownSkill struct {
	services map[string]any
}

// NewNexusShutdownSkill is a skills.Factory for nexus_shutdown.
func NewNexusShutdownSkill(services map[string]any) (skills.Skill, error) {
	return &nexusShutdownSkill{services: services}, nil
}

func (s *nexusShutdownSkill) Name() string { return "nexus_shutdown" }

func (s *nexusShutdownSkill) Description() string {
	return "Request graceful shutdown of the Nexus server (stops every agent)."
}

func (s *nexusShutdownSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"port": map[string]any{
				"type":        "integer",
				"description": "Server port (defaults to this agent's own server)",
			},
		},
		"additionalProperties": false,
	}
}

func (s *nexusShutdownSkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	port := resolvePort(args, s.services)
	token := resolveToken(s.services)

	raw, err := remoteCall(ctx, globalURL(port), token, "shutdown_server", map[string]any{})
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}
	return models.ToolResult{Output: string(raw)}
}
