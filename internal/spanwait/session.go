package spanwait

import (
	"context"
	"sync"
	"time"
)

// State is where a session is in its lifecycle. Resolved, Cancelled and
// Superseded are terminal.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateResolved
	StateCancelled
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	case StateSuperseded:
		return "superseded"
	default:
		return "idle"
	}
}

// Terminal reports whether s is a final outcome.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateCancelled || s == StateSuperseded
}

// Session is one wait for a span. Its outcome is decided exactly once.
type Session struct {
	ID      string
	TraceID string
	SpanID  string
	Started time.Time

	ctx    context.Context
	cancel func()

	mu    sync.Mutex
	state State
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session is cancelled for any reason, including
// after it resolves.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// decide moves a waiting session to a terminal state. It reports false when
// the outcome was already decided or outcome is not terminal.
func (s *Session) decide(outcome State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || !outcome.Terminal() {
		return false
	}
	s.state = outcome
	return true
}
