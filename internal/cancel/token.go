// Package cancel implements NEXUS3's cooperative cancellation primitive: a
// single-shot latch with a callback list, reusable across turns via Reset.
//
// This is distinct from context.Context cancellation: a Token is owned by a
// Session (C10) and reset at the start of each turn rather than discarded,
// so callbacks registered once (e.g. "close this provider stream") keep
// firing on every subsequent cancel without re-registration.
package cancel

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrCancelled is returned by RaiseIfCancelled once the token has been
// cancelled. Callers use errors.Is to detect it without string matching.
var ErrCancelled = errors.New("cancelled")

// Token is a cooperative single-shot cancellation latch with callbacks.
// The zero value is not usable; construct with New.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()
	logger    *slog.Logger
}

// New returns a ready-to-use Token. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Token {
	if logger == nil {
		logger = slog.Default()
	}
	return &Token{logger: logger}
}

// Cancel flips the latch and invokes every registered callback. Idempotent:
// calling Cancel on an already-cancelled token is a no-op. A callback that
// panics or is otherwise misbehaving is isolated so it cannot block
// cancellation of its peers; panics are recovered and logged at debug level.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, cb := range callbacks {
		t.runCallback(cb)
	}
}

func (t *Token) runCallback(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Debug("cancellation callback panicked", "recovered", r)
		}
	}()
	cb()
}

// OnCancel registers cb to run when the token is cancelled. If the token is
// already cancelled, cb runs immediately (synchronously, on the calling
// goroutine) instead of being queued.
func (t *Token) OnCancel(cb func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		t.runCallback(cb)
		return
	}
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// RaiseIfCancelled returns ErrCancelled if the token has been cancelled, nil
// otherwise. Callers check this between streamed events and before
// dispatching each tool call (spec's cooperative-cancellation contract).
func (t *Token) RaiseIfCancelled() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Reset clears the latch without discarding registered callbacks, so the
// same Token can be cancelled again on a later turn.
func (t *Token) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = false
}
