// Package engine wires the ingestion pipeline together: transport frames are
// decoded, deduplicated, fanned out, debounced into batches, and applied to
// the canonical timeline under a single logical writer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/workspace/chat-client/internal/activity"
	"github.com/workspace/chat-client/internal/auth"
	"github.com/workspace/chat-client/internal/backoff"
	"github.com/workspace/chat-client/internal/batcher"
	"github.com/workspace/chat-client/internal/dedup"
	"github.com/workspace/chat-client/internal/firehose"
	"github.com/workspace/chat-client/internal/metrics"
	"github.com/workspace/chat-client/internal/persistence"
	"github.com/workspace/chat-client/internal/reconcile"
	"github.com/workspace/chat-client/internal/timeline"
	"github.com/workspace/chat-client/internal/transport"
	"github.com/workspace/chat-client/internal/wire"
)

// Options configures an Engine. Zero values fall back to the pipeline
// defaults.
type Options struct {
	PlatformURL string

	DedupWindow     time.Duration
	DedupMaxEntries int

	Batch   batcher.Config
	Backoff backoff.Policy

	WSHandshakeTimeout time.Duration
	WSReadBufferSize   int
	WSWriteBufferSize  int

	// Metrics may be nil; instrumentation then no-ops.
	Metrics *metrics.Set
	// Cursors may be nil; resume positions are then kept only in memory.
	Cursors *persistence.Store
	// Validator may be nil; tokens are then passed through unverified.
	Validator *auth.TokenValidator

	// OnStatusChange reports per-stream connectivity for UI indicators.
	OnStatusChange func(target transport.Target, connected bool)
}

// Engine is the client-side ingestion pipeline. All exported methods are
// safe for concurrent use.
type Engine struct {
	opts Options

	store   *timeline.Store
	tracker *activity.Tracker

	cache     *dedup.Cache
	demux     *firehose.Demux
	batch     *batcher.Batcher
	trans     *reconcile.Translator
	connector *transport.Connector

	// applyMu makes batch application the single logical writer over the
	// store and tracker.
	applyMu sync.Mutex

	mu      sync.Mutex
	cursors map[string]persistence.Cursor
}

// New builds the pipeline. The returned engine owns its connector; call
// Close to tear everything down.
func New(opts Options) *Engine {
	e := &Engine{
		opts:    opts,
		store:   timeline.NewStore(),
		tracker: activity.NewTracker(),
		cache:   dedup.NewCache(opts.DedupWindow, opts.DedupMaxEntries),
		demux:   firehose.New(),
		cursors: make(map[string]persistence.Cursor),
	}
	e.trans = reconcile.NewTranslator(e.store, e.tracker)
	e.batch = batcher.New(opts.Batch, e.applyBatch)

	// Every decoded event feeds the batcher; additional subscribers attach
	// via Subscribe.
	e.demux.Subscribe(e.batch.Add)

	e.connector = transport.New(transport.Config{
		BaseURL:          opts.PlatformURL,
		HandshakeTimeout: opts.WSHandshakeTimeout,
		ReadBufferSize:   opts.WSReadBufferSize,
		WriteBufferSize:  opts.WSWriteBufferSize,
		Policy:           opts.Backoff,
		OnStatusChange:   opts.OnStatusChange,
		OnRetry: func(target transport.Target, attempt int, delay time.Duration) {
			opts.Metrics.IncReconnects()
			slog.Info("reconnect scheduled",
				"target", target.Key(), "attempt", attempt, "delay", delay)
		},
	}, func(_ transport.Target, frame []byte) {
		e.IngestFrame(frame)
	})

	return e
}

// Store exposes the canonical timeline for rendering.
func (e *Engine) Store() *timeline.Store { return e.store }

// Tracker exposes per-session activity state.
func (e *Engine) Tracker() *activity.Tracker { return e.tracker }

// Subscribe attaches an additional consumer to the decoded event firehose.
// The returned function unsubscribes.
func (e *Engine) Subscribe(h firehose.Handler) func() {
	return e.demux.Subscribe(h)
}

// IngestFrame runs one raw frame through decode and dedup, then publishes
// it. It runs synchronously on the transport read goroutine so the dedup
// check-and-register cannot race a redelivery of the same frame.
func (e *Engine) IngestFrame(frame []byte) {
	e.opts.Metrics.IncEventsReceived()

	ev, err := wire.Decode(frame)
	if err != nil {
		e.opts.Metrics.IncParseErrors()
		slog.Warn("dropping undecodable frame", "error", err)
		return
	}

	if e.cache.Seen(ev.EventID) {
		e.opts.Metrics.IncDuplicatesDropped()
		slog.Debug("dropping duplicate event",
			"eventId", ev.EventID, "type", ev.Type, "sessionId", ev.SessionID)
		return
	}

	e.demux.Publish(ev)
}

// applyBatch is the batcher sink: events land on the timeline in arrival
// order under applyMu.
func (e *Engine) applyBatch(events []wire.Event) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.opts.Metrics.IncBatchesFlushed()

	for _, ev := range events {
		if err := e.trans.Apply(ev); err != nil {
			if errors.Is(err, reconcile.ErrUnroutable) {
				e.opts.Metrics.IncUnroutableEvents()
			} else {
				e.opts.Metrics.IncTranslationErrors()
			}
			slog.Warn("event not applied",
				"type", ev.Type, "eventId", ev.EventID, "error", err)
			continue
		}
		e.opts.Metrics.IncEventsApplied()
		e.advanceCursor(ev)
	}
}

// advanceCursor records the latest event seen per session, persisting it
// when a cursor store is configured.
func (e *Engine) advanceCursor(ev wire.Event) {
	if ev.SessionID == "" || ev.EventID == "" {
		return
	}

	cur := persistence.Cursor{
		SessionID:   ev.SessionID,
		LastEventID: ev.EventID,
		LastEventAt: ev.Timestamp.UTC().Format(time.RFC3339),
	}

	e.mu.Lock()
	e.cursors[ev.SessionID] = cur
	e.mu.Unlock()

	if e.opts.Cursors != nil {
		if err := e.opts.Cursors.SaveCursor(cur); err != nil {
			slog.Warn("failed to persist cursor", "sessionId", ev.SessionID, "error", err)
		}
	}
}

// cursorFor returns the resume position for a session, falling back to the
// persistent store when memory has none.
func (e *Engine) cursorFor(sessionID string) string {
	e.mu.Lock()
	cur, ok := e.cursors[sessionID]
	e.mu.Unlock()
	if ok {
		return cur.LastEventID
	}

	if e.opts.Cursors != nil {
		saved, err := e.opts.Cursors.GetCursor(sessionID)
		if err != nil {
			slog.Warn("failed to load cursor", "sessionId", sessionID, "error", err)
			return ""
		}
		if saved != nil {
			return saved.LastEventID
		}
	}
	return ""
}

// ConnectSession opens the event stream for one conversation session,
// resuming after the last applied event when a cursor is known. A transport
// failure is returned to the caller; session streams are not auto-resumed.
func (e *Engine) ConnectSession(ctx context.Context, sessionID, token string) error {
	if sessionID == "" {
		return fmt.Errorf("engine: session id is required")
	}
	return e.connector.Connect(ctx, transport.Target{
		Kind:   transport.TargetSession,
		ID:     sessionID,
		Token:  token,
		Cursor: e.cursorFor(sessionID),
	})
}

// ConnectUser opens the cross-session user stream. When a validator is
// configured the token is verified first and the user id is taken from its
// claims. The stream is supervised: transport failures trigger backed-off
// reconnects until Disconnect.
func (e *Engine) ConnectUser(ctx context.Context, userID, token string) error {
	if e.opts.Validator != nil {
		claims, err := e.opts.Validator.Validate(token)
		if err != nil {
			return fmt.Errorf("engine: validate stream token: %w", err)
		}
		if id := e.opts.Validator.UserID(claims); id != "" {
			userID = id
		}
	}
	if userID == "" {
		return fmt.Errorf("engine: user id is required")
	}
	return e.connector.Connect(ctx, transport.Target{
		Kind:  transport.TargetUser,
		ID:    userID,
		Token: token,
	})
}

// Connected reports whether the session stream is currently open.
func (e *Engine) Connected(sessionID string) bool {
	return e.connector.Connected(transport.Target{Kind: transport.TargetSession, ID: sessionID})
}

// Disconnect flushes any pending batch and then aborts all streams.
// Flushing first means events already read are applied rather than lost.
func (e *Engine) Disconnect() {
	e.batch.Flush()
	e.connector.Disconnect()
}

// Close shuts the pipeline down: streams are aborted, the stream goroutines
// are joined, and the final batch is force-flushed.
func (e *Engine) Close() {
	e.connector.Close()
	e.batch.Close()
}
