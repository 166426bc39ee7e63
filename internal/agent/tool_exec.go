package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// defaultToolTimeout applies when neither a per-tool override nor the
// policy's DefaultTimeout is set.
const defaultToolTimeout = 30 * time.Second

// toolResult pairs an executed ToolCall's outcome with the identifiers
// Context needs to record it as a Tool message.
type toolResult struct {
	callID string
	name   string
	result models.ToolResult
}

// actionClassifier is an optional capability a Skill may implement to
// participate in permission evaluation; skills that don't implement it are
// treated conservatively as ActionExecute, the most scrutinized class.
type actionClassifier interface {
	Action() permission.Action
}

// pathExtractor is an optional capability a Skill may implement to report
// which filesystem path a given call set of args touches, so Policy can
// apply path gating to it.
type pathExtractor interface {
	Path(args map[string]any) string
}

// unwrapper is implemented by skills.Registry's validating wrapper so
// classify can see through it to the concrete skill's optional capabilities.
type unwrapper interface {
	Unwrap() skills.Skill
}

func classify(s skills.Skill, args map[string]any) (permission.Action, string) {
	if u, ok := s.(unwrapper); ok {
		s = u.Unwrap()
	}

	action := permission.ActionExecute
	if ac, ok := s.(actionClassifier); ok {
		action = ac.Action()
	}
	path := ""
	if pe, ok := s.(pathExtractor); ok {
		path = pe.Path(args)
	}
	return action, path
}

// executeToolCalls runs calls per spec §4.10 step 7: each call is looked up,
// permission-checked, confirmed if required, and executed under its
// resolved timeout. A batch runs concurrently only if every call in it sets
// "_parallel": true; otherwise calls run sequentially and a failing call
// halts the remaining siblings, which are reported as halted rather than
// executed.
func (s *Session) executeToolCalls(ctx context.Context, calls []models.ToolCall) []toolResult {
	if allParallel(calls) {
		return s.executeParallel(ctx, calls)
	}
	return s.executeSequentialWithHalt(ctx, calls)
}

func allParallel(calls []models.ToolCall) bool {
	if len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		p, _ := c.Arguments["_parallel"].(bool)
		if !p {
			return false
		}
	}
	return true
}

func (s *Session) executeParallel(ctx context.Context, calls []models.ToolCall) []toolResult {
	results := make([]toolResult, len(calls))

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = s.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (s *Session) executeSequentialWithHalt(ctx context.Context, calls []models.ToolCall) []toolResult {
	ordered := s.orderByPriority(calls)
	results := make([]toolResult, 0, len(ordered))
	halted := false

	for _, call := range ordered {
		if halted {
			results = append(results, toolResult{
				callID: call.ID,
				name:   call.Name,
				result: models.ToolResult{Error: "halted: preceding tool in batch failed"},
			})
			continue
		}

		r := s.executeOne(ctx, call)
		results = append(results, r)
		if !r.result.Success() {
			halted = true
		}
	}
	return results
}

// orderByPriority stable-sorts calls by descending per-tool priority (the
// ToolConfig override's Priority field), so a sequential batch runs
// higher-priority tools first while preserving relative order among ties.
// A nil policy (fail-closed path) and single-call batches skip sorting.
func (s *Session) orderByPriority(calls []models.ToolCall) []models.ToolCall {
	if s.policy == nil || len(calls) < 2 {
		return calls
	}
	ordered := make([]models.ToolCall, len(calls))
	copy(ordered, calls)
	sort.SliceStable(ordered, func(i, j int) bool {
		return s.policy.ToolPriority(ordered[i].Name) > s.policy.ToolPriority(ordered[j].Name)
	})
	return ordered
}

// executeOne runs the permission/confirmation/execute pipeline for a single
// ToolCall (spec §4.10 step 7 a-d).
func (s *Session) executeOne(ctx context.Context, call models.ToolCall) toolResult {
	if err := s.token.RaiseIfCancelled(); err != nil {
		return toolResult{callID: call.ID, name: call.Name, result: models.ToolResult{Error: "cancelled"}}
	}

	skill, err := s.registry.Build(call.Name, s.services)
	if err != nil {
		return toolResult{callID: call.ID, name: call.Name,
			result: models.ToolResult{Error: fmt.Sprintf("Unknown skill: %s", call.Name)}}
	}

	action, path := classify(skill, call.Arguments)

	if s.policy == nil {
		// Fail-closed: H3.
		return toolResult{callID: call.ID, name: call.Name,
			result: models.ToolResult{Error: permission.ErrNoPolicy.Error()}}
	}

	decision := s.policy.Evaluate(call.Name, action, path)
	if !decision.Allowed {
		return toolResult{callID: call.ID, name: call.Name, result: models.ToolResult{Error: decision.DenyReason}}
	}

	if decision.RequiresConfirmation && !s.confirmCache.preAllowed(action, path) {
		result, err := s.requestConfirmation(ctx, call)
		if err != nil {
			return toolResult{callID: call.ID, name: call.Name, result: models.ToolResult{Error: err.Error()}}
		}
		if result == models.ConfirmDeny {
			return toolResult{callID: call.ID, name: call.Name, result: models.ToolResult{Error: "cancelled by user"}}
		}
		s.confirmCache.record(result, path)
	}

	return s.runSkill(ctx, skill, call)
}

// requestConfirmation invokes the injected on_confirm callback. In headless
// deployments with no callback wired, the call fails closed (deny) rather
// than silently proceeding — spec §9: "an injected confirmation callback
// MUST be pre-configured to either auto-deny ... or auto-allow".
func (s *Session) requestConfirmation(ctx context.Context, call models.ToolCall) (models.ConfirmationResult, error) {
	if s.confirm == nil {
		s.logger.Warn("session: no confirmation callback wired, denying by default",
			"agent_id", s.agentID, "tool", call.Name)
		return models.ConfirmDeny, nil
	}
	return s.confirm(ctx, call)
}

func (s *Session) runSkill(ctx context.Context, skill skills.Skill, call models.ToolCall) toolResult {
	retries := 0
	if s.policy != nil {
		retries = s.policy.ToolRetries(call.Name)
	}

	var r toolResult
	for attempt := 0; attempt <= retries; attempt++ {
		r = s.attemptSkill(ctx, skill, call)
		if r.result.Success() {
			break
		}
	}
	return r
}

// attemptSkill runs skill once under its resolved timeout and records the
// attempt's latency and outcome against the Session's executor metrics.
func (s *Session) attemptSkill(ctx context.Context, skill skills.Skill, call models.ToolCall) toolResult {
	timeout := defaultToolTimeout
	if t, ok := s.policy.ToolTimeout(call.Name); ok {
		timeout = t
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan models.ToolResult, 1)
	start := time.Now()
	go func() {
		resultCh <- skill.Execute(execCtx, call.Arguments)
	}()

	var r toolResult
	select {
	case result := <-resultCh:
		r = toolResult{callID: call.ID, name: call.Name, result: result}
	case <-execCtx.Done():
		r = toolResult{callID: call.ID, name: call.Name,
			result: models.ToolResult{Error: fmt.Sprintf("tool %s: %v", call.Name, execCtx.Err())}}
	}

	s.recordToolCall(call.Name, time.Since(start), !r.result.Success())
	return r
}

// recordToolCall feeds one attempt's outcome into the Session's always-on
// executor snapshot and, if wired, the process-wide Prometheus observer.
func (s *Session) recordToolCall(tool string, d time.Duration, failed bool) {
	s.executor.record(tool, d, failed)
	if s.toolObs != nil {
		s.toolObs.ObserveToolCall(tool, d, failed)
	}
}
