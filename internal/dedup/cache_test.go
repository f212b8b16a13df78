package dedup

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(window time.Duration, maxEntries int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	c := NewCache(window, maxEntries)
	c.now = clock.now
	return c, clock
}

func TestSeenRegistersAndDetectsDuplicates(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(30*time.Second, 4000)

	if c.Seen("e1") {
		t.Fatal("first delivery reported as duplicate")
	}

	// Same event 5s later, still inside the 30s window.
	clock.advance(5 * time.Second)
	if !c.Seen("e1") {
		t.Fatal("repeat delivery inside window not detected")
	}
}

func TestSeenExpiresAfterWindow(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(30*time.Second, 4000)

	c.Seen("e1")
	clock.advance(31 * time.Second)

	if c.Seen("e1") {
		t.Fatal("entry older than window should have been evicted")
	}
}

func TestSeenEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(time.Hour, 3)

	for i := 0; i < 4; i++ {
		c.Seen(fmt.Sprintf("e%d", i))
		clock.advance(time.Millisecond)
	}

	if got := c.Len(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	// e0 was evicted by the count bound; a redelivery registers fresh.
	if c.Seen("e0") {
		t.Fatal("evicted key should be treated as unseen")
	}
	// e3 is still live.
	if !c.Seen("e3") {
		t.Fatal("live key not detected as duplicate")
	}
}

func TestSeenEmptyKeyNeverBlocks(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(30*time.Second, 4000)

	for i := 0; i < 5; i++ {
		if c.Seen("") {
			t.Fatal("empty key must always be treated as unique")
		}
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("empty keys should not be registered, len = %d", got)
	}
}

func TestSeenReregistersAfterExpiry(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(10*time.Second, 100)

	c.Seen("e1")
	clock.advance(11 * time.Second)
	if c.Seen("e1") {
		t.Fatal("expected fresh registration after expiry")
	}
	clock.advance(time.Second)
	if !c.Seen("e1") {
		t.Fatal("expected duplicate inside new window")
	}
}
