// Package batcher smooths bursty event arrivals into UI-paced batches using
// a single cancellable debounce timer that is re-armed, never stacked.
package batcher

import (
	"sync"
	"time"

	"github.com/workspace/chat-client/internal/wire"
)

// Config holds the debounce thresholds and the flush delay for each arrival
// pace. Zero values fall back to the defaults.
type Config struct {
	// ActiveThreshold classifies arrivals closer together than this as a
	// streaming burst.
	ActiveThreshold time.Duration
	// IdleThreshold classifies arrivals farther apart than this as idle.
	IdleThreshold time.Duration

	ActiveDelay time.Duration
	NormalDelay time.Duration
	IdleDelay   time.Duration
}

// DefaultConfig returns the tuned production delays.
func DefaultConfig() Config {
	return Config{
		ActiveThreshold: 200 * time.Millisecond,
		IdleThreshold:   time.Second,
		ActiveDelay:     150 * time.Millisecond,
		NormalDelay:     300 * time.Millisecond,
		IdleDelay:       500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ActiveThreshold <= 0 {
		c.ActiveThreshold = d.ActiveThreshold
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.ActiveDelay <= 0 {
		c.ActiveDelay = d.ActiveDelay
	}
	if c.NormalDelay <= 0 {
		c.NormalDelay = d.NormalDelay
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = d.IdleDelay
	}
	return c
}

// delayFor picks the flush delay from the gap since the previous arrival.
func (c Config) delayFor(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < c.ActiveThreshold:
		return c.ActiveDelay
	case elapsed > c.IdleThreshold:
		return c.IdleDelay
	default:
		return c.NormalDelay
	}
}

// Batcher accumulates events and delivers them to the sink once arrivals
// slow down. Every arrival cancels the pending timer and arms a fresh one,
// so no flush fires mid-burst and one always fires once the burst ends.
type Batcher struct {
	cfg  Config
	sink func([]wire.Event)

	// deliverMu serializes sink invocations so batches arrive in flush order.
	deliverMu sync.Mutex

	mu        sync.Mutex
	pending   []wire.Event
	lastEvent time.Time
	timer     *time.Timer
	closed    bool
}

// New creates a batcher delivering flushed batches to sink.
func New(cfg Config, sink func([]wire.Event)) *Batcher {
	return &Batcher{cfg: cfg.withDefaults(), sink: sink}
}

// Add records one arrival and re-arms the flush timer. Events added after
// Close are dropped; delivery can no longer succeed.
func (b *Batcher) Add(ev wire.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	now := time.Now()
	elapsed := b.cfg.IdleThreshold + time.Second
	if !b.lastEvent.IsZero() {
		elapsed = now.Sub(b.lastEvent)
	}
	b.lastEvent = now
	b.pending = append(b.pending, ev)

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.cfg.delayFor(elapsed), b.Flush)
	b.mu.Unlock()
}

// Flush synchronously delivers any pending batch to the sink.
func (b *Batcher) Flush() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		b.sink(batch)
	}
}

// Close stops the timer and force-flushes whatever is pending so no event is
// silently lost on a graceful shutdown path. Further Add calls are ignored.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	b.Flush()
}

// Pending reports the number of events waiting for the next flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
