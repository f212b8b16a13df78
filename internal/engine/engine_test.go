package engine

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/workspace/chat-client/internal/batcher"
	"github.com/workspace/chat-client/internal/metrics"
	"github.com/workspace/chat-client/internal/persistence"
	"github.com/workspace/chat-client/internal/timeline"
	"github.com/workspace/chat-client/internal/wire"
)

func fastOptions() Options {
	return Options{
		PlatformURL: "http://localhost:0",
		Batch: batcher.Config{
			ActiveDelay: 10 * time.Millisecond,
			NormalDelay: 10 * time.Millisecond,
			IdleDelay:   10 * time.Millisecond,
		},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func chunkFrame(sessionID, messageID, eventID, delta string) []byte {
	return []byte(fmt.Sprintf(
		`{"session_id":%q,"event_type":"chunk","event_id":%q,"message_id":%q,"timestamp":"2026-08-30T10:00:00Z","data":{"delta":%q}}`,
		sessionID, eventID, messageID, delta))
}

func TestIngestStreamingTurn(t *testing.T) {
	e := New(fastOptions())
	defer e.Close()

	e.IngestFrame(chunkFrame("sess-1", "msg-1", "evt-1", "Hello"))
	e.IngestFrame(chunkFrame("sess-1", "msg-1", "evt-2", ", world"))
	e.IngestFrame([]byte(`{"session_id":"sess-1","event_type":"completion_signal","event_id":"evt-3","data":{}}`))

	waitFor(t, func() bool {
		ev, ok := e.Store().GetEventByID("msg-1")
		return ok && !ev.Partial
	}, "turn did not settle")

	ev, _ := e.Store().GetEventByID("msg-1")
	if got := ev.Text(); got != "Hello, world" {
		t.Errorf("text = %q, want %q", got, "Hello, world")
	}
	if ev.Kind != timeline.KindMessage {
		t.Errorf("kind = %q", ev.Kind)
	}
}

func TestIngestDropsDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := fastOptions()
	opts.Metrics = metrics.NewSet(reg)
	e := New(opts)
	defer e.Close()

	frame := chunkFrame("sess-1", "msg-1", "evt-1", "Hi")
	e.IngestFrame(frame)
	e.IngestFrame(frame)
	e.IngestFrame(frame)

	waitFor(t, func() bool { return e.Store().Has("msg-1") }, "event not applied")

	ev, _ := e.Store().GetEventByID("msg-1")
	if got := ev.Text(); got != "Hi" {
		t.Errorf("text = %q, want %q (duplicate applied)", got, "Hi")
	}
	if got := testutil.ToFloat64(opts.Metrics.DuplicatesDropped); got != 2 {
		t.Errorf("DuplicatesDropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(opts.Metrics.EventsReceived); got != 3 {
		t.Errorf("EventsReceived = %v, want 3", got)
	}
}

func TestIngestCountsParseErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := fastOptions()
	opts.Metrics = metrics.NewSet(reg)
	e := New(opts)
	defer e.Close()

	e.IngestFrame([]byte(`{not json`))

	if got := testutil.ToFloat64(opts.Metrics.ParseErrors); got != 1 {
		t.Errorf("ParseErrors = %v, want 1", got)
	}
	if e.Store().Len() != 0 {
		t.Errorf("store should be empty, has %d", e.Store().Len())
	}
}

func TestIngestCountsUnroutable(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := fastOptions()
	opts.Metrics = metrics.NewSet(reg)
	e := New(opts)
	defer e.Close()

	// Decodes fine but has no session id, so translation drops it.
	e.IngestFrame([]byte(`{"event_type":"message","event_id":"evt-1","data":{"content":"orphan"}}`))

	waitFor(t, func() bool {
		return testutil.ToFloat64(opts.Metrics.UnroutableEvents) == 1
	}, "unroutable event not counted")
	if e.Store().Len() != 0 {
		t.Errorf("store should be empty, has %d", e.Store().Len())
	}
}

func TestSubscribeSeesDecodedEvents(t *testing.T) {
	e := New(fastOptions())
	defer e.Close()

	got := make(chan wire.Event, 1)
	unsub := e.Subscribe(func(ev wire.Event) { got <- ev })
	defer unsub()

	e.IngestFrame(chunkFrame("sess-1", "msg-1", "evt-1", "Hi"))

	select {
	case ev := <-got:
		if ev.Type != wire.TypeChunk || ev.SessionID != "sess-1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never saw the event")
	}
}

func TestDisconnectFlushesPending(t *testing.T) {
	opts := fastOptions()
	// Long delays so the flush can only come from Disconnect.
	opts.Batch = batcher.Config{
		ActiveDelay: time.Hour,
		NormalDelay: time.Hour,
		IdleDelay:   time.Hour,
	}
	e := New(opts)
	defer e.Close()

	e.IngestFrame(chunkFrame("sess-1", "msg-1", "evt-1", "Hi"))
	e.Disconnect()

	if !e.Store().Has("msg-1") {
		t.Fatal("pending event lost on disconnect")
	}
}

func TestCursorPersistedAcrossEngines(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	opts := fastOptions()
	opts.Cursors = store
	e := New(opts)

	e.IngestFrame(chunkFrame("sess-1", "msg-1", "evt-7", "Hi"))
	waitFor(t, func() bool { return e.Store().Has("msg-1") }, "event not applied")
	e.Close()

	// A fresh engine with the same store resumes from the saved position.
	e2 := New(opts)
	defer e2.Close()
	if got := e2.cursorFor("sess-1"); got != "evt-7" {
		t.Errorf("cursorFor = %q, want %q", got, "evt-7")
	}
}
