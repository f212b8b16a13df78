// Package reconcile translates raw wire events into canonical timeline
// operations and activity-state transitions.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/workspace/chat-client/internal/activity"
	"github.com/workspace/chat-client/internal/timeline"
	"github.com/workspace/chat-client/internal/wire"
)

// ErrUnroutable marks a raw event without a session id. It cannot be routed
// to any timeline and must be dropped.
var ErrUnroutable = errors.New("reconcile: event has no session id")

// TranslationError marks a well-formed event whose payload is semantically
// incomplete for its type. It affects only the one event.
type TranslationError struct {
	Type   wire.EventType
	Reason string
	Err    error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconcile: %s event: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("reconcile: %s event: %s", e.Type, e.Reason)
}

func (e *TranslationError) Unwrap() error { return e.Err }

func translationErr(t wire.EventType, reason string, err error) error {
	return &TranslationError{Type: t, Reason: reason, Err: err}
}

// Translator applies raw events to the canonical store and activity tracker.
// It holds no state of its own; callers serialize Apply so each event is
// applied to completion before the next.
type Translator struct {
	store   *timeline.Store
	tracker *activity.Tracker
}

// NewTranslator creates a translator writing into store and tracker.
func NewTranslator(store *timeline.Store, tracker *activity.Tracker) *Translator {
	return &Translator{store: store, tracker: tracker}
}

// Apply translates one raw event. It returns ErrUnroutable for events
// without a session id and a *TranslationError for semantically incomplete
// payloads; either way the caller logs, drops the event, and continues with
// the rest of the batch.
func (t *Translator) Apply(ev wire.Event) error {
	if ev.SessionID == "" {
		return ErrUnroutable
	}

	switch ev.Type {
	case wire.TypeChunk:
		return t.applyChunk(ev)
	case wire.TypeMessage, wire.TypeText:
		return t.applyMessage(ev)
	case wire.TypeToolCall:
		return t.applyToolCall(ev)
	case wire.TypeToolResult:
		return t.applyToolResult(ev)
	case wire.TypeAgentStatus:
		return t.applyAgentStatus(ev)
	case wire.TypeCompletionSignal:
		t.store.ClearPartial(ev.SessionID)
		t.tracker.MarkIdle(ev.SessionID)
		return nil
	case wire.TypeError:
		// Agent-side error ends the turn. Surfacing the message is the UI
		// layer's job; here it only settles the activity state.
		slog.Warn("agent reported error", "sessionId", ev.SessionID, "data", string(ev.Data))
		t.tracker.MarkIdle(ev.SessionID)
		return nil
	case wire.TypeUnknown:
		slog.Debug("ignoring unrecognized event type",
			"sessionId", ev.SessionID, "eventType", ev.RawType, "eventId", ev.EventID)
		return nil
	default:
		return translationErr(ev.Type, "no translation", nil)
	}
}

// applyChunk appends an incremental delta to the message identified by the
// chunk's message id, creating a new partial message on first sight.
func (t *Translator) applyChunk(ev wire.Event) error {
	data, err := wire.DecodeChunk(ev)
	if err != nil {
		return translationErr(ev.Type, "bad payload", err)
	}
	if ev.MessageID == "" {
		return translationErr(ev.Type, "missing message_id", nil)
	}

	partial := true
	if data.Partial != nil {
		partial = *data.Partial
	}

	t.store.AddEvent(timeline.Event{
		ID:        ev.MessageID,
		Kind:      timeline.KindMessage,
		Role:      "assistant",
		Content:   []timeline.ContentPart{timeline.TextPart(data.Delta)},
		Partial:   partial,
		SessionID: ev.SessionID,
		Source:    "stream",
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	})
	t.tracker.MarkAwaiting(ev.SessionID)
	return nil
}

// applyMessage upserts a complete (or resumed) message with the supplied
// role, content, and partial flag.
func (t *Translator) applyMessage(ev wire.Event) error {
	data, err := wire.DecodeMessage(ev)
	if err != nil {
		return translationErr(ev.Type, "bad payload", err)
	}

	role := data.Role
	if role == "" {
		role = "assistant"
	}

	t.store.AddEvent(timeline.Event{
		ID:        canonicalID(ev),
		Kind:      timeline.KindMessage,
		Role:      role,
		Content:   []timeline.ContentPart{timeline.TextPart(data.Content)},
		Partial:   data.Partial,
		SessionID: ev.SessionID,
		Source:    "stream",
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	})
	return nil
}

// applyToolCall records an immutable tool_call event. A repeat for an
// already-stored id is ignored rather than merged.
func (t *Translator) applyToolCall(ev wire.Event) error {
	data, err := wire.DecodeToolCall(ev)
	if err != nil {
		return translationErr(ev.Type, "bad payload", err)
	}
	if data.Name == "" {
		return translationErr(ev.Type, "missing tool name", nil)
	}

	id := canonicalID(ev)
	if t.store.Has(id) {
		slog.Debug("tool_call already stored", "id", id, "sessionId", ev.SessionID)
		return nil
	}

	var content []timeline.ContentPart
	if len(data.Arguments) > 0 {
		content = []timeline.ContentPart{timeline.DataPart(data.Arguments)}
	}

	t.store.AddEvent(timeline.Event{
		ID:        id,
		Kind:      timeline.KindToolCall,
		Role:      "assistant",
		Content:   content,
		SessionID: ev.SessionID,
		Source:    "stream",
		ToolName:  data.Name,
		CallID:    data.CallID,
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	})
	return nil
}

// applyToolResult records an immutable tool_result event referencing its
// originating tool_call. Late-arriving results are accepted; ordering with
// respect to the call is not enforced.
func (t *Translator) applyToolResult(ev wire.Event) error {
	data, err := wire.DecodeToolResult(ev)
	if err != nil {
		return translationErr(ev.Type, "bad payload", err)
	}
	if data.CallID == "" {
		return translationErr(ev.Type, "missing call_id", nil)
	}

	id := canonicalID(ev)
	if t.store.Has(id) {
		slog.Debug("tool_result already stored", "id", id, "sessionId", ev.SessionID)
		return nil
	}

	var content []timeline.ContentPart
	if data.Error != "" {
		content = append(content, timeline.TextPart(data.Error))
	}
	if len(data.Result) > 0 {
		content = append(content, timeline.DataPart(data.Result))
	}

	success := data.Success
	t.store.AddEvent(timeline.Event{
		ID:        id,
		Kind:      timeline.KindToolResult,
		Role:      "tool",
		Content:   content,
		SessionID: ev.SessionID,
		Source:    "stream",
		CallID:    data.CallID,
		Success:   &success,
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	})
	return nil
}

// applyAgentStatus is a pure side effect on the activity tracker; status
// events never reach the timeline.
func (t *Translator) applyAgentStatus(ev wire.Event) error {
	data, err := wire.DecodeAgentStatus(ev)
	if err != nil {
		return translationErr(ev.Type, "bad payload", err)
	}

	switch data.Status {
	case "active":
		t.tracker.MarkAwaiting(ev.SessionID)
	case "idle":
		t.tracker.MarkIdle(ev.SessionID)
	default:
		return translationErr(ev.Type, fmt.Sprintf("unrecognized status %q", data.Status), nil)
	}
	return nil
}

// canonicalID picks the stored id for an event: the message correlation id
// when present, the delivery id otherwise, and a synthesized id as the last
// resort so the event is never lost.
func canonicalID(ev wire.Event) string {
	if ev.MessageID != "" {
		return ev.MessageID
	}
	if ev.EventID != "" {
		return ev.EventID
	}
	return uuid.NewString()
}
