package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus3/nexus3/internal/logmux"
	"github.com/nexus3/nexus3/internal/persistence"
	"github.com/nexus3/nexus3/internal/pool"
	"github.com/nexus3/nexus3/pkg/models"
)

// AgentDispatcher is bound to exactly one live Agent and handles its
// per-agent JSON-RPC methods (spec §4.13): send, cancel, get_context,
// get_tokens, get_messages, save, clone, rename, steer, get_metrics.
type AgentDispatcher struct {
	Agent       *pool.Agent
	Multiplex   *logmux.Multiplexer
	Persistence *persistence.Store
	Now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewAgentDispatcher builds a Dispatcher bound to a. multiplex and store may
// be nil (disables log routing / save-related methods respectively).
func NewAgentDispatcher(a *pool.Agent, multiplex *logmux.Multiplexer, store *persistence.Store) *AgentDispatcher {
	return &AgentDispatcher{
		Agent:       a,
		Multiplex:   multiplex,
		Persistence: store,
		Now:         time.Now,
		inFlight:    make(map[string]bool),
	}
}

type sendParams struct {
	Content string `json:"content"`
}

type cancelParams struct {
	RequestID string `json:"request_id,omitempty"`
}

type saveParams struct {
	Name string `json:"name,omitempty"`
}

type cloneRenameParams struct {
	Destination string `json:"destination"`
}

type steerParams struct {
	Content string `json:"content"`
}

// Dispatch routes req to the matching per-agent method. Every method that
// may cause provider I/O runs under the multiplexer's agent scope so raw
// log events land in this agent's raw.jsonl (spec §4.13's log routing
// discipline).
func (d *AgentDispatcher) Dispatch(ctx context.Context, req Request) Response {
	ctx = d.scoped(ctx)

	switch req.Method {
	case "send":
		return d.send(ctx, req)
	case "cancel":
		return d.cancel(req)
	case "get_context":
		return d.getContext(req)
	case "get_tokens":
		return d.getTokens(req)
	case "get_messages":
		return d.getMessages(req)
	case "save":
		return d.save(req)
	case "clone":
		return d.clone(req)
	case "rename":
		return d.rename(req)
	case "steer":
		return d.steer(req)
	case "get_metrics":
		return d.getMetrics(req)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, "unknown method: "+req.Method, nil)
	}
}

func (d *AgentDispatcher) scoped(ctx context.Context) context.Context {
	if d.Multiplex == nil {
		return ctx
	}
	return logmux.WithAgent(ctx, d.Agent.ID)
}

func (d *AgentDispatcher) requestKey(req Request) string {
	if req.ID == nil {
		return uuid.NewString()
	}
	return fmt.Sprintf("%v", req.ID)
}

func (d *AgentDispatcher) begin(key string) {
	d.mu.Lock()
	d.inFlight[key] = true
	d.mu.Unlock()
}

func (d *AgentDispatcher) end(key string) {
	d.mu.Lock()
	delete(d.inFlight, key)
	d.mu.Unlock()
}

func (d *AgentDispatcher) send(ctx context.Context, req Request) Response {
	var p sendParams
	if err := parseParams(req.Params, &p); err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
	}

	key := d.requestKey(req)
	d.begin(key)
	defer d.end(key)

	var final string
	var halted bool
	for ev := range d.Agent.Session.Send(ctx, p.Content) {
		if ev.Err != nil {
			return errorResponse(req.ID, ErrCodeInternalError, ev.Err.Error(), nil)
		}
		final += ev.Content
		if ev.HaltedAtIterationLimit {
			halted = true
		}
	}

	return result(req.ID, map[string]any{
		"content":                   final,
		"halted_at_iteration_limit": halted,
		"request_id":                key,
	})
}

func (d *AgentDispatcher) cancel(req Request) Response {
	var p cancelParams
	if len(req.Params) > 0 {
		if err := parseParams(req.Params, &p); err != nil {
			return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
		}
	}

	d.mu.Lock()
	var found bool
	if p.RequestID == "" {
		found = len(d.inFlight) > 0
	} else {
		found = d.inFlight[p.RequestID]
	}
	d.mu.Unlock()

	if !found {
		return errorResponse(req.ID, ErrCodeCancelled, "no matching in-flight request", nil)
	}
	d.Agent.Session.Cancel()
	return result(req.ID, map[string]any{"cancelled": true})
}

func (d *AgentDispatcher) getContext(req Request) Response {
	return result(req.ID, d.Agent.Convo.Messages())
}

func (d *AgentDispatcher) getTokens(req Request) Response {
	return result(req.ID, d.Agent.Convo.GetTokenUsage())
}

func (d *AgentDispatcher) getMessages(req Request) Response {
	return result(req.ID, d.Agent.Convo.Messages())
}

func (d *AgentDispatcher) save(req Request) Response {
	if d.Persistence == nil {
		return errorResponse(req.ID, ErrCodeInternalError, "persistence not configured", nil)
	}
	var p saveParams
	if len(req.Params) > 0 {
		if err := parseParams(req.Params, &p); err != nil {
			return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
		}
	}
	name := p.Name
	if name == "" {
		name = d.Agent.ID
	}

	now := d.Now()
	saved := models.SavedSession{
		AgentID:    d.Agent.ID,
		CreatedAt:  d.Agent.CreatedAt,
		ModifiedAt: now,
		Messages:   d.Agent.Convo.Messages(),
		Provenance: "live",
	}
	if err := d.Persistence.Save(name, saved); err != nil {
		return errorResponse(req.ID, ErrCodeInternalError, err.Error(), nil)
	}
	return result(req.ID, map[string]any{"saved": name})
}

func (d *AgentDispatcher) clone(req Request) Response {
	if d.Persistence == nil {
		return errorResponse(req.ID, ErrCodeInternalError, "persistence not configured", nil)
	}
	var p cloneRenameParams
	if err := parseParams(req.Params, &p); err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
	}
	if err := d.Persistence.Clone(d.Agent.ID, p.Destination, d.Now()); err != nil {
		return errorResponse(req.ID, ErrCodeInternalError, err.Error(), nil)
	}
	return result(req.ID, map[string]any{"cloned": p.Destination})
}

func (d *AgentDispatcher) rename(req Request) Response {
	if d.Persistence == nil {
		return errorResponse(req.ID, ErrCodeInternalError, "persistence not configured", nil)
	}
	var p cloneRenameParams
	if err := parseParams(req.Params, &p); err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
	}
	if err := d.Persistence.Rename(d.Agent.ID, p.Destination, d.Now()); err != nil {
		return errorResponse(req.ID, ErrCodeInternalError, err.Error(), nil)
	}
	return result(req.ID, map[string]any{"renamed": p.Destination})
}

// steer enqueues an additional user turn for whichever send call is
// currently running, folded into Context at its next iteration boundary
// without the caller re-entering send.
func (d *AgentDispatcher) steer(req Request) Response {
	var p steerParams
	if err := parseParams(req.Params, &p); err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: err}
	}
	if err := d.Agent.Session.Steer(p.Content); err != nil {
		return errorResponse(req.ID, ErrCodeInternalError, err.Error(), nil)
	}
	return result(req.ID, map[string]any{"queued": true})
}

// getMetrics reports this agent's tool-call counters (total calls, total
// failures, mean per-tool latency) since the Session was created.
func (d *AgentDispatcher) getMetrics(req Request) Response {
	return result(req.ID, d.Agent.Session.ExecutorMetrics())
}
