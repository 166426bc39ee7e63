package rpc

import (
	"context"
	"fmt"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/persistence"
	"github.com/nexus3/nexus3/internal/pool"
)

// GlobalDispatcher handles the pool-scoped JSON-RPC methods (spec §4.13):
// create_agent, destroy_agent, list_agents, shutdown_server.
type GlobalDispatcher struct {
	Pool     *pool.Pool
	Shutdown func(ctx context.Context) // nil is a no-op; wired by the HTTP server
}

// NewGlobalDispatcher constructs a GlobalDispatcher over p. shutdown may be
// nil when the caller doesn't support graceful shutdown via RPC.
func NewGlobalDispatcher(p *pool.Pool, shutdown func(ctx context.Context)) *GlobalDispatcher {
	return &GlobalDispatcher{Pool: p, Shutdown: shutdown}
}

type createAgentParams struct {
	Name string `json:"name"`

	// PermissionPreset names one of the embedded Yolo/Trusted/Sandboxed
	// presets (spec §4.12 create's optional config parameter) to apply to
	// this agent instead of the pool's configured default resolution.
	PermissionPreset string `json:"permission_preset,omitempty"`
}

type destroyAgentParams struct {
	AgentID string `json:"agent_id"`
}

// Dispatch routes req to the matching GlobalDispatcher method and returns a
// fully-formed JSON-RPC response (never an error return — failures are
// carried in Response.Error per JSON-RPC convention).
func (d *GlobalDispatcher) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "create_agent":
		return d.createAgent(req)
	case "destroy_agent":
		return d.destroyAgent(req)
	case "list_agents":
		return d.listAgents(req)
	case "shutdown_server":
		return d.shutdownServer(ctx, req)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, "unknown method: "+req.Method, nil)
	}
}

func (d *GlobalDispatcher) createAgent(req Request) Response {
	var p createAgentParams
	if err := parseParams(req.Params, &p); err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
	}

	var err error
	var a *pool.Agent
	if p.PermissionPreset == "" {
		a, err = d.Pool.Create(p.Name)
	} else {
		presets, presetErr := permission.Presets()
		if presetErr != nil {
			return errorResponse(req.ID, ErrCodeInternalError, presetErr.Error(), nil)
		}
		perms, ok := presets[p.PermissionPreset]
		if !ok {
			return errorResponse(req.ID, ErrCodeInvalidParams,
				fmt.Sprintf("unknown permission_preset %q", p.PermissionPreset), nil)
		}
		a, err = d.Pool.CreateWithPermissions(p.Name, perms)
	}
	if err != nil {
		if _, ok := err.(*pool.ErrDuplicateAgent); ok {
			return errorResponse(req.ID, ErrCodeAgentExists, err.Error(), nil)
		}
		return errorResponse(req.ID, ErrCodeInvalidParams, err.Error(), nil)
	}
	return result(req.ID, map[string]any{"agent_id": a.ID, "created_at": a.CreatedAt})
}

func (d *GlobalDispatcher) destroyAgent(req Request) Response {
	var p destroyAgentParams
	if err := parseParams(req.Params, &p); err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
	}
	if err := d.Pool.Destroy(p.AgentID); err != nil {
		return errorResponse(req.ID, ErrCodeInternalError, err.Error(), nil)
	}
	return result(req.ID, map[string]any{"destroyed": true})
}

func (d *GlobalDispatcher) listAgents(req Request) Response {
	snapshots := d.Pool.List()
	out := make([]map[string]any, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, map[string]any{
			"agent_id":        s.AgentID,
			"is_temp":         s.IsTemp,
			"created_at":      s.CreatedAt,
			"message_count":   s.MessageCount,
			"should_shutdown": s.ShouldShutdown,
		})
	}
	return result(req.ID, out)
}

func (d *GlobalDispatcher) shutdownServer(ctx context.Context, req Request) Response {
	if d.Shutdown != nil {
		d.Shutdown(ctx)
	}
	return result(req.ID, map[string]any{"shutting_down": true})
}

// RestoreOrNotFound is the auto-restore composition spec §4.12's get()
// describes: look up a live agent, and if absent, attempt a restore from a
// saved session before reporting not-found. Used by both the per-agent
// Dispatcher's routing (via the HTTP server) and directly by tests.
func RestoreOrNotFound(p *pool.Pool, store *persistence.Store, agentID string) (*pool.Agent, error) {
	if a, ok := p.Get(agentID); ok {
		return a, nil
	}
	if store == nil || !store.Exists(agentID) {
		return nil, &AgentNotFoundError{AgentID: agentID}
	}
	saved, err := store.Load(agentID)
	if err != nil {
		return nil, err
	}
	saved.Provenance = "restored"
	return p.RestoreFromSaved(saved)
}

// AgentNotFoundError is returned when an agent id has neither a live
// instance nor a saved session to restore from.
type AgentNotFoundError struct{ AgentID string }

func (e *AgentNotFoundError) Error() string {
	return "rpc: agent not found: " + e.AgentID
}
