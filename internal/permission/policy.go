// Package permission implements NEXUS3's three-level permission policy: the
// decision table governing whether a tool call is allowed outright, allowed
// only after confirmation, or denied, plus filesystem path gating.
package permission

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexus3/nexus3/pkg/models"
)

// ErrDenied is returned when a call is denied outright (no confirmation
// possible: the level forbids it).
var ErrDenied = errors.New("permission denied")

// ErrNoPolicy is the fail-closed sentinel (spec §4.2, invariant H3): a
// Session with no Policy wired must synthesize an error ToolResult rather
// than permit any call.
var ErrNoPolicy = errors.New("no permission policy configured")

// Action is a tool-intent classifier consulted against the fixed
// DESTRUCTIVE_ACTIONS / SAFE_ACTIONS sets.
type Action string

const (
	ActionRead    Action = "read"
	ActionList    Action = "list"
	ActionWrite   Action = "write"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
	ActionNetwork Action = "network"
)

// destructiveActions and safeActions are the closed sets spec §4.2 names.
// Matching on action name is case-insensitive.
var destructiveActions = map[Action]bool{
	ActionWrite:   true,
	ActionDelete:  true,
	ActionExecute: true,
}

var safeActions = map[Action]bool{
	ActionRead: true,
	ActionList: true,
}

// IsDestructive reports whether action is in the closed DESTRUCTIVE_ACTIONS
// set, matching case-insensitively.
func IsDestructive(action Action) bool {
	return destructiveActions[normalizeAction(action)]
}

// IsSafe reports whether action is in the closed SAFE_ACTIONS set.
func IsSafe(action Action) bool {
	return safeActions[normalizeAction(action)]
}

func normalizeAction(a Action) Action {
	return Action(strings.ToLower(string(a)))
}

// sandboxedDisabledTools is the frozen set of tool names a Sandboxed agent
// may never call, regardless of per-tool overrides.
var sandboxedDisabledTools = map[string]bool{
	"exec":        true,
	"bash":        true,
	"shell":       true,
	"web_fetch":   true,
	"web_search":  true,
	"spawn_agent": true,
}

// SandboxedDisabledTools reports whether name is in the frozen
// SANDBOXED_DISABLED_TOOLS set. Matching is case-insensitive.
func SandboxedDisabledTools(name string) bool {
	return sandboxedDisabledTools[strings.ToLower(name)]
}

// Decision is the outcome of evaluating a tool call against a Policy.
type Decision struct {
	Allowed             bool
	RequiresConfirmation bool
	DenyReason          string
}

// Policy evaluates tool calls against an AgentPermissions configuration
// (spec §4.2's decision table).
type Policy struct {
	perms models.AgentPermissions
}

// New builds a Policy from an AgentPermissions value.
func New(perms models.AgentPermissions) *Policy {
	return &Policy{perms: perms}
}

// toolOverride looks up the per-tool override, case-insensitively. Absence
// means "inherit from level" (spec §4.2).
func (p *Policy) toolOverride(toolName string) (models.ToolOverride, bool) {
	if p.perms.Overrides == nil {
		return models.ToolOverride{}, false
	}
	o, ok := p.perms.Overrides[strings.ToLower(toolName)]
	return o, ok
}

// Evaluate decides whether toolName, classified as action, may run.
// path is consulted only when action is a filesystem action; pass "" when
// not applicable.
func (p *Policy) Evaluate(toolName string, action Action, path string) Decision {
	if override, ok := p.toolOverride(toolName); ok && override.EnabledSet && !override.Enabled {
		return Decision{Allowed: false, DenyReason: "tool disabled by per-tool override"}
	}

	switch p.perms.Level {
	case models.PermissionYolo:
		return Decision{Allowed: true}

	case models.PermissionTrusted:
		if path != "" && !p.pathAllowed(path, false) {
			return Decision{Allowed: false, DenyReason: "path not permitted"}
		}
		return Decision{Allowed: true, RequiresConfirmation: IsDestructive(action)}

	case models.PermissionSandboxed:
		if SandboxedDisabledTools(toolName) {
			return Decision{Allowed: false, DenyReason: "tool disabled for sandboxed agents"}
		}
		if action == ActionNetwork {
			return Decision{Allowed: false, DenyReason: "network access disabled for sandboxed agents"}
		}
		if path != "" && !p.pathAllowed(path, true) {
			return Decision{Allowed: false, DenyReason: "path outside sandbox"}
		}
		return Decision{Allowed: true, RequiresConfirmation: false}

	default:
		return Decision{Allowed: false, DenyReason: "unknown permission level"}
	}
}

// pathAllowed applies blocked-overrides-allowed semantics. For Sandboxed
// (defaultToCwd=true), an empty AllowedPaths list defaults to "." (cwd)
// rather than "all paths".
func (p *Policy) pathAllowed(path string, defaultToCwd bool) bool {
	clean := filepath.Clean(path)

	for _, blocked := range p.perms.BlockedPaths {
		if underRoot(clean, blocked) {
			return false
		}
	}

	allowed := p.perms.AllowedPaths
	if len(allowed) == 0 {
		if defaultToCwd {
			allowed = []string{"."}
		} else {
			return true
		}
	}

	for _, root := range allowed {
		if underRoot(clean, root) {
			return true
		}
	}
	return false
}

// underRoot reports whether path lies at or under root, both cleaned.
func underRoot(path, root string) bool {
	cleanRoot := filepath.Clean(root)
	rel, err := filepath.Rel(cleanRoot, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// CanNetwork reports whether the policy's level permits outbound network
// calls at all (spec §4.2's can_network column).
func (p *Policy) CanNetwork() bool {
	return p.perms.Level != models.PermissionSandboxed
}

// Level returns the underlying permission level.
func (p *Policy) Level() models.PermissionLevel {
	return p.perms.Level
}

// ToolTimeout resolves the effective timeout for toolName: per-tool
// override, else the policy's default.
func (p *Policy) ToolTimeout(toolName string) (d time.Duration, ok bool) {
	if override, has := p.toolOverride(toolName); has && override.Timeout > 0 {
		return override.Timeout, true
	}
	if p.perms.DefaultTimeout > 0 {
		return p.perms.DefaultTimeout, true
	}
	return 0, false
}

// ToolRetries returns the number of additional attempts toolName gets after
// an initial failure. Absent an override, a tool never retries.
func (p *Policy) ToolRetries(toolName string) int {
	override, has := p.toolOverride(toolName)
	if !has || override.MaxRetries < 0 {
		return 0
	}
	return override.MaxRetries
}

// ToolPriority returns toolName's execution priority within a sequential
// batch. Absent an override, priority is 0.
func (p *Policy) ToolPriority(toolName string) int {
	override, has := p.toolOverride(toolName)
	if !has {
		return 0
	}
	return override.Priority
}
