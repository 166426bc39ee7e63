package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// nexusSendSkill sends a message to a sibling agent on the same server and
// returns its response, grounded on the original NexusSendSkill.
type nexusSendSkill struct {
	services map[string]any
}

// NewNexusSendSkill is a skills.Factory for nexus_send.
func NewNexusSendSkill(services map[string]any) (skills.Skill, error) {
	return &nexusSendSkill{services: services}, nil
}

func (s *nexusSendSkill) Name() string { return "nexus_send" }

func (s *nexusSendSkill) Description() string {
	return "Send a message to a Nexus agent on this server and get its response. " +
		"The agent may use tools before responding; if it halts at its internal " +
		"tool-iteration limit, the response is flagged halted_at_iteration_limit."
}

func (s *nexusSendSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]any{
				"type":        "string",
				"description": "ID of the agent to send to (e.g. \"worker-1\")",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Message to send; the agent processes and responds to it",
			},
			"port": map[string]any{
				"type":        "integer",
				"description": "Server port (defaults to this agent's own server)",
			},
		},
		"required":             []any{"agent_id", "content"},
		"additionalProperties": false,
	}
}

func (s *nexusSendSkill) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return models.ToolResult{Error: "no agent_id provided"}
	}
	content, _ := args["content"].(string)
	if content == "" {
		return models.ToolResult{Error: "no content provided"}
	}

	port := resolvePort(args, s.services)
	token := resolveToken(s.services)

	raw, err := remoteCall(ctx, agentURL(port, agentID), token, "send", map[string]any{"content": content})
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}

	var decoded struct {
		Content                string `json:"content"`
		HaltedAtIterationLimit bool   `json:"halted_at_iteration_limit"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return models.ToolResult{Output: string(raw)}
	}
	if decoded.HaltedAtIterationLimit {
		decoded.Content += fmt.Sprintf(
			"\n\n[WARNING: agent %q halted at max tool iterations. Send another message to continue, or use nexus_status to check state.]",
			agentID)
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}
	return models.ToolResult{Output: string(out)}
}
