// Package timeline maintains the reconciled, per-session, append-only record
// of messages, tool calls, and tool results exposed to the UI.
package timeline

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind classifies a canonical event.
type Kind string

const (
	KindMessage    Kind = "message"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// Content part types.
const (
	PartText = "text"
	PartData = "data"
)

// ContentPart is one piece of event content. Text parts grow by appending
// while the owning event is still partial; data parts are replaced wholesale.
type ContentPart struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// DataPart builds a structured content part.
func DataPart(data json.RawMessage) ContentPart {
	return ContentPart{Type: PartData, Data: data}
}

// Event is one canonical timeline entry.
type Event struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	Role      string        `json:"role"`
	Content   []ContentPart `json:"content"`
	Partial   bool          `json:"partial"`
	SessionID string        `json:"sessionId"`
	Source    string        `json:"source,omitempty"`
	ToolName  string        `json:"toolName,omitempty"`
	CallID    string        `json:"callId,omitempty"`
	Success   *bool         `json:"success,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Text concatenates the event's text parts.
func (e Event) Text() string {
	var out string
	for _, p := range e.Content {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Store holds canonical events for all sessions. Writes arrive from the
// single reconciliation path; the UI reads concurrently through the accessor
// methods, which return copies.
type Store struct {
	mu     sync.RWMutex
	events map[string]*Event
	order  map[string][]string // session id -> event ids, insertion order
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		events: make(map[string]*Event),
		order:  make(map[string][]string),
	}
}

// AddEvent upserts by id. A new id is inserted at the end of its session's
// timeline. An existing id is merged field by field with the incoming value
// winning, except text content, which appends rather than overwrites.
func (s *Store) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[ev.ID]
	if !ok {
		stored := ev
		stored.Content = copyContent(ev.Content)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = stored.CreatedAt
		}
		s.events[ev.ID] = &stored
		s.order[ev.SessionID] = append(s.order[ev.SessionID], ev.ID)
		return
	}

	mergeEvent(existing, ev)
}

// mergeEvent applies the per-field merge policy onto dst.
func mergeEvent(dst *Event, in Event) {
	if in.Kind != "" {
		dst.Kind = in.Kind
	}
	if in.Role != "" {
		dst.Role = in.Role
	}
	if in.Source != "" {
		dst.Source = in.Source
	}
	if in.ToolName != "" {
		dst.ToolName = in.ToolName
	}
	if in.CallID != "" {
		dst.CallID = in.CallID
	}
	if in.Success != nil {
		success := *in.Success
		dst.Success = &success
	}
	dst.Content = mergeContent(dst.Content, in.Content)
	dst.Partial = in.Partial

	if !in.UpdatedAt.IsZero() {
		dst.UpdatedAt = in.UpdatedAt
	} else {
		dst.UpdatedAt = time.Now().UTC()
	}
}

// mergeContent folds incoming parts into existing ones: a text part appends
// to the trailing text part, anything else is appended as a new part.
func mergeContent(existing, incoming []ContentPart) []ContentPart {
	out := copyContent(existing)
	for _, p := range incoming {
		if p.Type == PartText && len(out) > 0 && out[len(out)-1].Type == PartText {
			out[len(out)-1].Text += p.Text
			continue
		}
		out = append(out, p)
	}
	return out
}

// Has reports whether an event with the given id exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[id]
	return ok
}

// GetEventByID returns a copy of the event with the given id.
func (s *Store) GetEventByID(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return Event{}, false
	}
	return copyEvent(ev), true
}

// ListBySession returns the session's events in stable insertion order.
func (s *Store) ListBySession(sessionID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[sessionID]
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.events[id]; ok {
			out = append(out, copyEvent(ev))
		}
	}
	return out
}

// ClearPartial clears the partial flag on every event of the session and
// returns how many events were finalized. This is the completion-signal
// operation: it is atomic with respect to readers.
func (s *Store) ClearPartial(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	finalized := 0
	for _, id := range s.order[sessionID] {
		ev, ok := s.events[id]
		if !ok || !ev.Partial {
			continue
		}
		ev.Partial = false
		ev.UpdatedAt = now
		finalized++
	}
	return finalized
}

// ClearSession removes every event of the session. This is the only
// operation that deletes entries.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order[sessionID] {
		delete(s.events, id)
	}
	delete(s.order, sessionID)
}

// Len reports the number of stored events across all sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func copyEvent(ev *Event) Event {
	out := *ev
	out.Content = copyContent(ev.Content)
	if ev.Success != nil {
		success := *ev.Success
		out.Success = &success
	}
	return out
}

func copyContent(parts []ContentPart) []ContentPart {
	if parts == nil {
		return nil
	}
	out := make([]ContentPart, len(parts))
	copy(out, parts)
	return out
}
