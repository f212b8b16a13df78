// Package activity derives an idle/awaiting state per session from the
// event stream.
package activity

import "sync"

// State is the derived activity state of a session.
type State string

const (
	// StateIdle means the session is not currently producing agent output.
	StateIdle State = "idle"
	// StateAwaiting means agent output for the session is in flight.
	StateAwaiting State = "awaiting"
)

// Tracker holds the per-session activity map. Writes come from the
// reconciliation path; the UI reads through Get and Snapshot.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]State)}
}

// MarkAwaiting transitions the session to awaiting. Called for chunk events
// and explicit "active" status events.
func (t *Tracker) MarkAwaiting(sessionID string) {
	t.set(sessionID, StateAwaiting)
}

// MarkIdle transitions the session to idle. Called for completion signals
// and explicit "idle" status events.
func (t *Tracker) MarkIdle(sessionID string) {
	t.set(sessionID, StateIdle)
}

func (t *Tracker) set(sessionID string, state State) {
	if sessionID == "" {
		return
	}
	t.mu.Lock()
	t.sessions[sessionID] = state
	t.mu.Unlock()
}

// Get returns the session's state. A session never previously observed is
// idle.
func (t *Tracker) Get(sessionID string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if state, ok := t.sessions[sessionID]; ok {
		return state
	}
	return StateIdle
}

// Snapshot returns a copy of the full activity map.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]State, len(t.sessions))
	for id, state := range t.sessions {
		out[id] = state
	}
	return out
}

// Forget drops the session from the map, used on session teardown.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	delete(t.sessions, sessionID)
	t.mu.Unlock()
}
