package reconcile

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/workspace/chat-client/internal/activity"
	"github.com/workspace/chat-client/internal/timeline"
	"github.com/workspace/chat-client/internal/wire"
)

func newTranslator() (*Translator, *timeline.Store, *activity.Tracker) {
	store := timeline.NewStore()
	tracker := activity.NewTracker()
	return NewTranslator(store, tracker), store, tracker
}

func chunkEvent(sessionID, messageID, delta string) wire.Event {
	data, _ := json.Marshal(wire.ChunkData{Delta: delta})
	return wire.Event{
		SessionID: sessionID,
		Type:      wire.TypeChunk,
		Timestamp: time.Now().UTC(),
		EventID:   "ev-" + messageID + "-" + delta,
		MessageID: messageID,
		Data:      data,
	}
}

func TestChunksAccumulateAndCompletionFinalizes(t *testing.T) {
	t.Parallel()

	tr, store, tracker := newTranslator()

	for _, delta := range []string{"Hi", " there"} {
		if err := tr.Apply(chunkEvent("s1", "m1", delta)); err != nil {
			t.Fatalf("Apply chunk: %v", err)
		}
	}
	if got := tracker.Get("s1"); got != activity.StateAwaiting {
		t.Fatalf("state = %q, want awaiting while streaming", got)
	}

	if err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeCompletionSignal, EventID: "e-done"}); err != nil {
		t.Fatalf("Apply completion: %v", err)
	}

	events := store.ListBySession("s1")
	if len(events) != 1 {
		t.Fatalf("store has %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != "m1" || ev.Text() != "Hi there" || ev.Partial {
		t.Fatalf("unexpected final event: id=%s text=%q partial=%v", ev.ID, ev.Text(), ev.Partial)
	}
	if got := tracker.Get("s1"); got != activity.StateIdle {
		t.Fatalf("state = %q, want idle after completion", got)
	}
}

func TestChunkOrderingAcrossBatchBoundaries(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	// Deltas split arbitrarily, as if they straddled batch flushes.
	for _, delta := range []string{"Hel", "lo ", "world"} {
		if err := tr.Apply(chunkEvent("s1", "m1", delta)); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	ev, _ := store.GetEventByID("m1")
	if got := ev.Text(); got != "Hello world" {
		t.Fatalf("text = %q, want %q", got, "Hello world")
	}
}

func TestUnroutableEventCreatesNothing(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	err := tr.Apply(chunkEvent("", "m1", "orphan"))
	if !errors.Is(err, ErrUnroutable) {
		t.Fatalf("err = %v, want ErrUnroutable", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store has %d events, want 0", store.Len())
	}
}

func TestSessionIsolation(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	if err := tr.Apply(chunkEvent("sessionA", "m1", "A")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Apply(chunkEvent("sessionB", "m2", "B")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Apply(wire.Event{SessionID: "sessionB", Type: wire.TypeCompletionSignal}); err != nil {
		t.Fatal(err)
	}

	a, _ := store.GetEventByID("m1")
	if !a.Partial {
		t.Fatal("completion for sessionB finalized a sessionA event")
	}
	b, _ := store.GetEventByID("m2")
	if b.Partial {
		t.Fatal("sessionB event not finalized")
	}
}

func TestMessageUpsert(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	data, _ := json.Marshal(wire.MessageData{Role: "user", Content: "hello agent", Partial: false})
	err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeMessage, EventID: "e1", MessageID: "m1", Data: data})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ev, ok := store.GetEventByID("m1")
	if !ok {
		t.Fatal("message not stored under its message id")
	}
	if ev.Role != "user" || ev.Text() != "hello agent" || ev.Partial {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestToolCallAndResult(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	callData, _ := json.Marshal(wire.ToolCallData{Name: "read_file", CallID: "c1", Arguments: json.RawMessage(`{"path":"/tmp/x"}`)})
	if err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeToolCall, EventID: "e1", Data: callData}); err != nil {
		t.Fatalf("Apply tool_call: %v", err)
	}

	resultData, _ := json.Marshal(wire.ToolResultData{CallID: "c1", Success: true, Result: json.RawMessage(`{"bytes":42}`)})
	if err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeToolResult, EventID: "e2", Data: resultData}); err != nil {
		t.Fatalf("Apply tool_result: %v", err)
	}

	call, _ := store.GetEventByID("e1")
	if call.Kind != timeline.KindToolCall || call.ToolName != "read_file" || call.CallID != "c1" {
		t.Fatalf("unexpected tool call: %+v", call)
	}

	result, _ := store.GetEventByID("e2")
	if result.Kind != timeline.KindToolResult || result.CallID != "c1" {
		t.Fatalf("unexpected tool result: %+v", result)
	}
	if result.Success == nil || !*result.Success {
		t.Fatal("success flag missing")
	}
}

func TestRepeatToolCallIsNotMerged(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	callData, _ := json.Marshal(wire.ToolCallData{Name: "bash", CallID: "c1", Arguments: json.RawMessage(`{"cmd":"ls"}`)})
	ev := wire.Event{SessionID: "s1", Type: wire.TypeToolCall, EventID: "e1", Data: callData}

	if err := tr.Apply(ev); err != nil {
		t.Fatal(err)
	}
	if err := tr.Apply(ev); err != nil {
		t.Fatal(err)
	}

	if store.Len() != 1 {
		t.Fatalf("store has %d events, want 1", store.Len())
	}
	stored, _ := store.GetEventByID("e1")
	if len(stored.Content) != 1 {
		t.Fatalf("repeat delivery mutated immutable tool call: %+v", stored.Content)
	}
}

func TestAgentStatusIsPureSideEffect(t *testing.T) {
	t.Parallel()

	tr, store, tracker := newTranslator()

	active, _ := json.Marshal(wire.AgentStatusData{Status: "active"})
	if err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeAgentStatus, EventID: "e1", Data: active}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tracker.Get("s1") != activity.StateAwaiting {
		t.Fatal("active status did not mark session awaiting")
	}

	idle, _ := json.Marshal(wire.AgentStatusData{Status: "idle"})
	if err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeAgentStatus, EventID: "e2", Data: idle}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tracker.Get("s1") != activity.StateIdle {
		t.Fatal("idle status did not mark session idle")
	}

	if store.Len() != 0 {
		t.Fatal("agent_status events must never reach the timeline")
	}
}

func TestTranslationErrorsAreTyped(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	cases := []struct {
		name string
		ev   wire.Event
	}{
		{"chunk without message_id", wire.Event{SessionID: "s1", Type: wire.TypeChunk, EventID: "e1", Data: json.RawMessage(`{"delta":"x"}`)}},
		{"tool_call without name", wire.Event{SessionID: "s1", Type: wire.TypeToolCall, EventID: "e2", Data: json.RawMessage(`{"call_id":"c1"}`)}},
		{"tool_result without call_id", wire.Event{SessionID: "s1", Type: wire.TypeToolResult, EventID: "e3", Data: json.RawMessage(`{"success":true}`)}},
		{"status with unknown literal", wire.Event{SessionID: "s1", Type: wire.TypeAgentStatus, EventID: "e4", Data: json.RawMessage(`{"status":"thinking"}`)}},
		{"chunk with non-object data", wire.Event{SessionID: "s1", Type: wire.TypeChunk, EventID: "e5", MessageID: "m1", Data: json.RawMessage(`"nope"`)}},
	}

	for _, tc := range cases {
		err := tr.Apply(tc.ev)
		var terr *TranslationError
		if !errors.As(err, &terr) {
			t.Errorf("%s: err = %v, want *TranslationError", tc.name, err)
		}
	}

	if store.Len() != 0 {
		t.Fatalf("translation failures created %d store entries", store.Len())
	}
}

func TestUnknownTypeIsDiagnosticOnly(t *testing.T) {
	t.Parallel()

	tr, store, _ := newTranslator()

	err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeUnknown, RawType: "job_instruction", EventID: "e1"})
	if err != nil {
		t.Fatalf("unknown type must not error: %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("unknown event type reached the timeline")
	}
}

func TestErrorEventSettlesActivity(t *testing.T) {
	t.Parallel()

	tr, store, tracker := newTranslator()

	tracker.MarkAwaiting("s1")
	err := tr.Apply(wire.Event{SessionID: "s1", Type: wire.TypeError, EventID: "e1", Data: json.RawMessage(`{"message":"boom"}`)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tracker.Get("s1") != activity.StateIdle {
		t.Fatal("error event should settle session to idle")
	}
	if store.Len() != 0 {
		t.Fatal("error event must not create a timeline entry")
	}
}
