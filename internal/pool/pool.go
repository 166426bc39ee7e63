// Package pool implements NEXUS3's Agent Pool (C12): lifecycle of per-agent
// runtime state, creation/destruction, auto-restore from disk, and the
// snapshot listing the HTTP layer surfaces.
package pool

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nexus3/nexus3/internal/agent"
	"github.com/nexus3/nexus3/internal/convo"
	"github.com/nexus3/nexus3/internal/logio"
	"github.com/nexus3/nexus3/internal/logmux"
	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/persistence"
	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/internal/storage"
	"github.com/nexus3/nexus3/pkg/models"
)

// Agent is the full runtime state the pool owns for one agent id (spec §3's
// Agent entity, minus the Dispatcher: the RPC layer builds a per-agent
// dispatcher over an *Agent on demand rather than the pool owning one).
type Agent struct {
	ID        string
	CreatedAt time.Time
	IsTemp    bool

	Convo    *convo.Manager
	Registry *skills.Registry
	Policy   *permission.Policy
	Session  *agent.Session
	Storage  *storage.Store
	Markdown *logio.MarkdownWriter
	Raw      *logio.RawWriter
	Services map[string]any
}

// MessageCount reports the agent's current in-memory message count, used by
// list() snapshots.
func (a *Agent) MessageCount() int { return len(a.Convo.Messages()) }

// PromptLoader resolves the system prompt text for a newly created agent.
type PromptLoader func(agentID string) (string, error)

// SkillInstaller registers an agent's built-in (and any enabled MCP) skills
// into reg; services carries per-agent context (cwd, api keys, pool handle).
type SkillInstaller func(reg *skills.Registry, services map[string]any) error

// PermissionsFor resolves the AgentPermissions to use for a freshly created
// agent_id, typically from static config or a preset name.
type PermissionsFor func(agentID string) models.AgentPermissions

// Config wires the Pool's shared components (spec §4.12's "shared
// components (config, provider, prompt loader, base log dir, log
// multiplexer handle)").
type Config struct {
	Provider        agent.LLMProvider
	Multiplexer     *logmux.Multiplexer
	BaseLogDir      string
	PromptLoader    PromptLoader
	InstallSkills   SkillInstaller
	Permissions     PermissionsFor
	Persistence     *persistence.Store // optional: wiring this enables auto-restore
	MaxTokens       int
	DefaultServices map[string]any
	Logger          *slog.Logger
	Now             func() time.Time
	Metrics         agent.IterationObserver // optional
}

// ErrDuplicateAgent is returned by Create/RestoreFromSaved when agentID is
// already active.
type ErrDuplicateAgent struct{ AgentID string }

func (e *ErrDuplicateAgent) Error() string {
	return fmt.Sprintf("pool: agent %q already exists", e.AgentID)
}

// Pool owns every live Agent, keyed by id.
type Pool struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	cfg    Config
}

// New constructs a Pool. A nil PromptLoader yields an empty system prompt; a
// nil InstallSkills registers no skills; a nil Permissions defaults every
// agent to Sandboxed (fail safe).
func New(cfg Config) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PromptLoader == nil {
		cfg.PromptLoader = func(string) (string, error) { return "", nil }
	}
	if cfg.InstallSkills == nil {
		cfg.InstallSkills = func(*skills.Registry, map[string]any) error { return nil }
	}
	if cfg.Permissions == nil {
		// Match the embedded "sandboxed" preset rather than a bare
		// {Level: Sandboxed}, so a server that never wires Permissions still
		// gets exec/bash/shell/web_fetch/web_search/spawn_agent disabled by
		// default instead of falling through Policy's own unset-override
		// path.
		cfg.Permissions = func(string) models.AgentPermissions {
			return permission.MustPresets()[string(models.PermissionSandboxed)]
		}
	}
	return &Pool{agents: make(map[string]*Agent), cfg: cfg}
}

func (p *Pool) sessionLogDir(agentID string) string {
	return filepath.Join(p.cfg.BaseLogDir, agentID)
}

// Create builds a brand new Agent using the pool's configured default
// permission resolution: validates the id, rejects duplicates, builds
// Context/Registry/Permissions/Session, registers the Session's raw log
// sink with the multiplexer, and stores it (spec §4.12 create).
func (p *Pool) Create(agentID string) (*Agent, error) {
	return p.create(agentID, nil)
}

// CreateWithPermissions is Create but overrides the pool's configured
// default permission resolution for this one call (spec §4.12 create's
// optional config parameter), used by create_agent's permission_preset
// param to select Yolo/Trusted/Sandboxed for a freshly created agent
// instead of only ever reaching the default via RestoreFromSaved.
func (p *Pool) CreateWithPermissions(agentID string, perms models.AgentPermissions) (*Agent, error) {
	return p.create(agentID, &perms)
}

func (p *Pool) create(agentID string, override *models.AgentPermissions) (*Agent, error) {
	if err := persistence.ValidateName(agentID); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.agents[agentID]; exists {
		return nil, &ErrDuplicateAgent{AgentID: agentID}
	}

	prompt, err := p.cfg.PromptLoader(agentID)
	if err != nil {
		return nil, fmt.Errorf("pool: load prompt for %q: %w", agentID, err)
	}

	perms := p.cfg.Permissions(agentID)
	if override != nil {
		perms = *override
	}

	a, err := p.build(agentID, prompt, nil, perms, p.cfg.Now())
	if err != nil {
		return nil, err
	}

	p.agents[agentID] = a
	return a, nil
}

// build is the shared Agent-construction path for both Create and
// RestoreFromSaved.
func (p *Pool) build(agentID, systemPrompt string, messages []models.Message, perms models.AgentPermissions, createdAt time.Time) (*Agent, error) {
	dir := p.sessionLogDir(agentID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("pool: create log dir for %q: %w", agentID, err)
	}

	store, err := storage.Open(filepath.Join(dir, "session.db"), p.cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("pool: open storage for %q: %w", agentID, err)
	}

	c := convo.New(convo.Config{Logger: p.cfg.Logger, MaxTokens: p.cfg.MaxTokens})
	c.SetSystemPrompt(systemPrompt, createdAt)
	c.ReplaceMessages(messages)

	reg := skills.New()
	services := make(map[string]any, len(p.cfg.DefaultServices)+1)
	for k, v := range p.cfg.DefaultServices {
		services[k] = v
	}
	services["agent_id"] = agentID
	if err := p.cfg.InstallSkills(reg, services); err != nil {
		store.Close()
		return nil, fmt.Errorf("pool: install skills for %q: %w", agentID, err)
	}
	c.SetToolDefinitions(reg.Definitions(services))

	pol := permission.New(perms)

	sess := agent.New(agent.Config{
		AgentID:   agentID,
		Provider:  p.cfg.Provider,
		Convo:     c,
		Registry:  reg,
		Policy:    pol,
		Multiplex: p.cfg.Multiplexer,
		Services:  services,
		Logger:    p.cfg.Logger,
		Now:       p.cfg.Now,
		Metrics:   p.cfg.Metrics,
	})

	markdown := logio.NewMarkdownWriter(filepath.Join(dir, "context.md"))
	if systemPrompt != "" {
		if err := markdown.WriteSystem(systemPrompt); err != nil {
			p.cfg.Logger.Warn("pool: write system prompt to context log failed", "agent_id", agentID, "error", err)
		}
	}

	a := &Agent{
		ID:        agentID,
		CreatedAt: createdAt,
		IsTemp:    persistence.IsTemp(agentID),
		Convo:     c,
		Registry:  reg,
		Policy:    pol,
		Session:   sess,
		Storage:   store,
		Markdown:  markdown,
		Raw:       logio.NewRawWriter(filepath.Join(dir, "raw.jsonl")),
		Services:  services,
	}

	if p.cfg.Multiplexer != nil {
		p.cfg.Multiplexer.Register(agentID, rawSink{w: a.Raw, now: p.cfg.Now})
	}

	if err := store.InitSessionMarkers(models.SessionMarkers{
		SessionType:   sessionType(agentID),
		SessionStatus: models.SessionStatusActive,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}); err != nil {
		p.cfg.Logger.Warn("pool: init session markers failed", "agent_id", agentID, "error", err)
	}

	return a, nil
}

func sessionType(agentID string) models.SessionType {
	if persistence.IsTemp(agentID) {
		return models.SessionTypeChild
	}
	return models.SessionTypeMain
}

// Get returns the active agent for agentID, or (nil, false) if it is not
// currently live. Auto-restore (spec §4.12 get) is the HTTP layer's
// responsibility: it calls SessionExists/RestoreFromSaved itself so that a
// "not found" response and a restore share the same code path as an
// explicit restore request.
func (p *Pool) Get(agentID string) (*Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[agentID]
	return a, ok
}

// SessionExists reports whether a saved session file exists for agentID,
// independent of whether the agent is currently live.
func (p *Pool) SessionExists(agentID string) bool {
	return p.cfg.Persistence != nil && p.cfg.Persistence.Exists(agentID)
}

// RestoreFromSaved builds a live Agent from a previously saved snapshot,
// preserving CreatedAt and installing the saved permission preset/disabled
// tools (spec §4.12 restore_from_saved). Rejects if agentID is already
// present.
func (p *Pool) RestoreFromSaved(saved models.SavedSession) (*Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.agents[saved.AgentID]; exists {
		return nil, &ErrDuplicateAgent{AgentID: saved.AgentID}
	}

	perms := p.cfg.Permissions(saved.AgentID)
	if saved.PermissionLevel != "" {
		perms.Level = saved.PermissionLevel
	}
	if len(saved.DisabledTools) > 0 {
		if perms.Overrides == nil {
			perms.Overrides = make(map[string]models.ToolOverride)
		}
		for _, name := range saved.DisabledTools {
			perms.Overrides[name] = models.ToolOverride{EnabledSet: true, Enabled: false}
		}
	}

	a, err := p.build(saved.AgentID, saved.SystemPrompt, saved.Messages, perms, saved.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.agents[saved.AgentID] = a
	return a, nil
}

// Destroy cancels any in-flight Session work, unregisters the log sink,
// marks storage destroyed, and removes agentID from the pool (spec §4.12
// destroy). Destroying an id that isn't live is not an error.
func (p *Pool) Destroy(agentID string) error {
	p.mu.Lock()
	a, ok := p.agents[agentID]
	if ok {
		delete(p.agents, agentID)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	a.Session.Cancel()
	if p.cfg.Multiplexer != nil {
		p.cfg.Multiplexer.Unregister(agentID)
	}
	if err := a.Storage.UpdateSessionStatus(models.SessionStatusCompleted, p.cfg.Now()); err != nil {
		p.cfg.Logger.Warn("pool: mark session destroyed failed", "agent_id", agentID, "error", err)
	}
	return a.Storage.Close()
}

// Snapshot is the list() view spec §4.12 names.
type Snapshot struct {
	AgentID        string
	IsTemp         bool
	CreatedAt      time.Time
	MessageCount   int
	ShouldShutdown bool
}

// List returns a point-in-time snapshot of every live agent.
func (p *Pool) List() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Snapshot, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, Snapshot{
			AgentID:        a.ID,
			IsTemp:         a.IsTemp,
			CreatedAt:      a.CreatedAt,
			MessageCount:   a.MessageCount(),
			ShouldShutdown: a.IsTemp && sessionIsFinished(a.Session.State()),
		})
	}
	return out
}

// sessionIsFinished reports whether a Session has run its turn to a
// terminal, non-error state; a temp agent's purpose is exactly one turn, so
// reaching one of these states is the pool's signal that the caller can
// destroy it without losing pending work.
func sessionIsFinished(s agent.State) bool {
	switch s {
	case agent.StateCompleted, agent.StateCancelled, agent.StateHalted:
		return true
	default:
		return false
	}
}

// DestroyAll cancels and destroys every live agent, used by graceful
// shutdown (spec §4.14).
func (p *Pool) DestroyAll() {
	p.mu.RLock()
	ids := make([]string, 0, len(p.agents))
	for id := range p.agents {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		if err := p.Destroy(id); err != nil {
			p.cfg.Logger.Warn("pool: destroy during shutdown failed", "agent_id", id, "error", err)
		}
	}
}

// rawSink adapts a logio.RawWriter to the logmux.Sink interface the
// multiplexer routes provider I/O callbacks through.
type rawSink struct {
	w   *logio.RawWriter
	now func() time.Time
}

func (r rawSink) OnRequest(payload any)  { _ = r.w.WriteRequest(payload, r.now()) }
func (r rawSink) OnResponse(payload any) { _ = r.w.WriteResponse(payload, r.now()) }
func (r rawSink) OnChunk(payload any)    { _ = r.w.WriteStreamChunk(payload, r.now()) }
func (r rawSink) OnStreamComplete(payload any) {
	if summary, ok := payload.(logio.StreamCompleteSummary); ok {
		_ = r.w.WriteStreamComplete(summary, r.now())
		return
	}
	_ = r.w.WriteStreamComplete(logio.StreamCompleteSummary{}, r.now())
}
