package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus3/nexus3/internal/cancel"
	"github.com/nexus3/nexus3/internal/convo"
	"github.com/nexus3/nexus3/internal/logmux"
	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/skills"
	"github.com/nexus3/nexus3/pkg/models"
)

// MaxToolIterationsInternal is the per-call tool-loop iteration cap
// (spec §4.10 step 8: "default 10 internal"). The serve-mode nexus_send RPC
// method may be re-invoked by a caller observing HaltedAtIterationLimit up
// to a documented external ceiling of 100 total iterations across calls;
// Session itself never loops past this internal bound in one Send call.
const MaxToolIterationsInternal = 10

// State is the Session's tool-loop state (spec §4.10).
type State string

const (
	StateIdle           State = "idle"
	StateStreaming      State = "streaming"
	StateAwaitingTools  State = "awaiting_tools"
	StateExecutingTools State = "executing_tools"
	StateCompleted      State = "completed"
	StateCancelled      State = "cancelled"
	StateHalted         State = "halted"
)

// SendEvent is one item in the stream Send produces: a content delta, or a
// terminal summary once the turn ends.
type SendEvent struct {
	Content                string
	Done                   bool
	HaltedAtIterationLimit bool
	Err                    error
}

// Config configures a new Session.
type Config struct {
	AgentID   string
	Provider  LLMProvider
	Convo     *convo.Manager
	Registry  *skills.Registry
	Policy    *permission.Policy // nil triggers fail-closed (H3)
	Multiplex *logmux.Multiplexer
	Observer  Observer
	Confirm   ConfirmFunc
	Services  map[string]any
	Logger    *slog.Logger
	Now       func() time.Time
	Metrics   IterationObserver // optional
}

// ConfirmFunc asks an external caller to resolve a confirmation-required
// tool call.
type ConfirmFunc func(ctx context.Context, call models.ToolCall) (models.ConfirmationResult, error)

// IterationObserver receives the number of tool-loop iterations a single
// Send call consumed, for the Prometheus histogram the HTTP layer exposes.
// Defined here (rather than importing the metrics package directly) so
// Session stays decoupled from any particular metrics backend.
type IterationObserver interface {
	ObserveToolIterations(n int)
}

// ToolCallObserver receives one tool call's latency and outcome, for the
// Prometheus histogram the HTTP layer exposes. A Config.Metrics value that
// also implements this interface gets per-call observations in addition to
// ObserveToolIterations; Session discovers this with a type assertion at
// construction time rather than a second Config field, so most callers
// never need to know it exists.
type ToolCallObserver interface {
	ObserveToolCall(tool string, d time.Duration, failed bool)
}

// steeringBacklog caps how many pending follow-up messages Steer can queue
// before a Session drains them between tool-loop iterations.
const steeringBacklog = 16

// Session is the heart of the system: one per Agent, owning the tool-use
// loop over a single Context/Registry/Policy triple.
type Session struct {
	agentID   string
	provider  LLMProvider
	convo     *convo.Manager
	registry  *skills.Registry
	policy    *permission.Policy
	multiplex *logmux.Multiplexer
	observer  Observer
	confirm   ConfirmFunc
	services  map[string]any
	logger    *slog.Logger
	now       func() time.Time
	metrics   IterationObserver
	toolObs   ToolCallObserver
	executor  *executorMetrics

	token    *cancel.Token
	state    State
	steering chan string

	confirmCache *confirmationCache
}

// New constructs a Session. A nil Observer defaults to NoopObserver; a nil
// Logger defaults to slog.Default(); a nil Policy means every tool call
// fails closed per H3.
func New(cfg Config) *Session {
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	toolObs, _ := cfg.Metrics.(ToolCallObserver)
	return &Session{
		agentID:      cfg.AgentID,
		provider:     cfg.Provider,
		convo:        cfg.Convo,
		registry:     cfg.Registry,
		policy:       cfg.Policy,
		multiplex:    cfg.Multiplex,
		observer:     cfg.Observer,
		confirm:      cfg.Confirm,
		services:     cfg.Services,
		logger:       cfg.Logger,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		toolObs:      toolObs,
		executor:     newExecutorMetrics(),
		token:        cancel.New(cfg.Logger),
		state:        StateIdle,
		steering:     make(chan string, steeringBacklog),
		confirmCache: newConfirmationCache(),
	}
}

// State returns the Session's current tool-loop state.
func (s *Session) State() State { return s.state }

// Cancel flips the Session's current CancellationToken.
func (s *Session) Cancel() { s.token.Cancel() }

// Steer enqueues an additional user turn to be folded into Context between
// tool-loop iterations of whichever Send call is currently running, without
// the caller re-entering send. It's dropped (with an error) if the backlog
// is full rather than blocking the RPC caller indefinitely.
func (s *Session) Steer(content string) error {
	select {
	case s.steering <- content:
		return nil
	default:
		return fmt.Errorf("session: steering backlog full (max %d pending)", steeringBacklog)
	}
}

// ExecutorMetrics reports this Session's tool-call counters since creation.
func (s *Session) ExecutorMetrics() ExecutorMetricsSnapshot {
	return s.executor.snapshot()
}

// drainSteering folds any messages queued by Steer into Context as
// additional user turns, run once per tool-loop iteration boundary.
func (s *Session) drainSteering() {
	for {
		select {
		case msg := <-s.steering:
			s.convo.AddUserMessage(msg)
		default:
			return
		}
	}
}

// Send appends userInput to Context, runs the tool loop, and streams
// assistant content deltas on the returned channel, closing it once the
// turn completes, is cancelled, or halts at the iteration limit.
func (s *Session) Send(ctx context.Context, userInput string) <-chan SendEvent {
	out := make(chan SendEvent)
	s.token.Reset()
	s.convo.AddUserMessage(userInput)

	go func() {
		defer close(out)
		s.runLoop(ctx, out)
	}()

	return out
}

func (s *Session) runLoop(ctx context.Context, out chan<- SendEvent) {
	ctx = logmux.WithAgent(ctx, s.agentID)

	iteration := 0
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveToolIterations(iteration)
		}
	}()

	for iteration < MaxToolIterationsInternal {
		iteration++
		if err := s.token.RaiseIfCancelled(); err != nil {
			s.state = StateCancelled
			return
		}

		s.state = StateStreaming
		assistantMsg, err := s.streamTurn(ctx, out)
		if err != nil {
			if err == errCancelled {
				s.state = StateCancelled
				return
			}
			out <- SendEvent{Err: err, Done: true}
			s.state = StateHalted
			return
		}
		if assistantMsg == nil {
			// Empty-assistant guard tripped upstream: provider anomaly,
			// terminate the turn without looping forever.
			s.logger.Warn("session: empty assistant message, terminating turn", "agent_id", s.agentID)
			out <- SendEvent{Done: true}
			s.state = StateCompleted
			return
		}

		s.convo.AddAssistantMessage(*assistantMsg)

		if !assistantMsg.HasToolCalls() {
			out <- SendEvent{Done: true}
			s.state = StateCompleted
			return
		}

		s.state = StateExecutingTools
		if err := s.token.RaiseIfCancelled(); err != nil {
			s.state = StateCancelled
			return
		}

		results := s.executeToolCalls(ctx, assistantMsg.ToolCalls)
		for _, r := range results {
			s.convo.AddToolResult(r.callID, r.name, r.result)
		}

		s.drainSteering()
	}

	out <- SendEvent{Content: "[Max tool iterations reached]", Done: true, HaltedAtIterationLimit: true}
	s.state = StateHalted
}

var errCancelled = fmt.Errorf("session: cancelled")

// streamTurn opens a provider stream and consumes it, yielding content
// deltas downstream and returning the assembled assistant message once the
// stream completes. Returns (nil, nil) on the empty-assistant anomaly.
func (s *Session) streamTurn(ctx context.Context, out chan<- SendEvent) (*models.Message, error) {
	req := CompletionRequest{
		Messages: s.convo.BuildMessages(convo.StrategyOldestFirst),
		Tools:    s.convo.ToolDefinitions(),
	}

	events, err := s.provider.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("session: open stream: %w", err)
	}

	for ev := range events {
		if err := s.token.RaiseIfCancelled(); err != nil {
			return nil, errCancelled
		}

		switch ev.Kind {
		case models.EventContentDelta:
			out <- SendEvent{Content: ev.Text}
		case models.EventReasoningDelta:
			s.observer.OnReasoningDelta(ev.Text)
		case models.EventToolCallStarted:
			s.observer.OnToolCallStarted(ev.ToolCallID, ev.ToolCallName)
		case models.EventStreamComplete:
			if ev.Final == nil || ev.Final.IsEmptyAssistant() {
				return nil, nil
			}
			return ev.Final, nil
		}
	}

	return nil, fmt.Errorf("session: provider stream ended without completion event")
}
