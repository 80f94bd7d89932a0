// Package session ties one channel's transcription job, subtitle tracker and
// participant roster together.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateNotStarted - No transcription job has been started yet, or the
	// start call failed. The session still accepts fragments.
	StateNotStarted State = iota
	// StateStarted - The backend accepted the start call.
	StateStarted
	// StateStopped - The session ended. Terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateStarted:
		return "STARTED"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Errors for invalid state transitions and lookups.
var (
	ErrSessionStopped = errors.New("session is stopped")
	ErrNotFound       = errors.New("session not found")
)

// Lifecycle manages the state machine of a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	NOT_STARTED → STARTED → STOPPED
//	     │                     ▲
//	     └─────────────────────┘
//
// Rules:
//   - MarkStarted is allowed from NOT_STARTED and STARTED (a repeated start is
//     passed through to the backend, which owns deduplication)
//   - MarkStopped is allowed from any state and is idempotent
//   - STOPPED: MarkStarted returns ErrSessionStopped
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in NOT_STARTED state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateNotStarted}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsStopped returns true once the session has stopped.
func (l *Lifecycle) IsStopped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// CanStart returns nil if a start call may be issued.
func (l *Lifecycle) CanStart() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state.IsTerminal() {
		return ErrSessionStopped
	}
	return nil
}

// MarkStarted transitions to STARTED.
func (l *Lifecycle) MarkStarted() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateNotStarted, StateStarted:
		l.state = StateStarted
		return nil
	case StateStopped:
		return ErrSessionStopped
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// MarkStopped transitions to STOPPED and returns the previous state.
func (l *Lifecycle) MarkStopped() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	l.state = StateStopped
	return prev
}
