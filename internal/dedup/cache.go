// Package dedup suppresses repeat deliveries of stream events inside a
// bounded time-and-count retention window.
package dedup

import (
	"sync"
	"time"
)

// Defaults for the retention window.
const (
	DefaultWindow     = 30 * time.Second
	DefaultMaxEntries = 4000
)

type entry struct {
	key string
	at  time.Time
}

// Cache is a bounded first-seen filter. Keys are retained until they age out
// of the window or the entry count exceeds the cap, whichever trips first.
type Cache struct {
	window     time.Duration
	maxEntries int

	mu      sync.Mutex
	seen    map[string]time.Time
	arrival []entry

	now func() time.Time
}

// NewCache creates a cache with the given retention window and entry cap.
// Non-positive values fall back to the defaults.
func NewCache(window time.Duration, maxEntries int) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		window:     window,
		maxEntries: maxEntries,
		seen:       make(map[string]time.Time),
		now:        time.Now,
	}
}

// Seen registers key with its arrival time if absent and returns false. It
// returns true when key is already registered inside the retention window,
// meaning the event is a duplicate and must be dropped. An empty key never
// blocks delivery and is treated as always unique.
func (c *Cache) Seen(key string) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpired(now)

	if _, ok := c.seen[key]; ok {
		return true
	}

	c.seen[key] = now
	c.arrival = append(c.arrival, entry{key: key, at: now})
	c.evictOverflow()
	return false
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired(c.now())
	return len(c.seen)
}

// evictExpired drops entries older than the window. The arrival slice is the
// eviction order; a slot is skipped when its key was already re-registered
// with a newer arrival time.
func (c *Cache) evictExpired(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for ; i < len(c.arrival); i++ {
		e := c.arrival[i]
		if e.at.After(cutoff) {
			break
		}
		if at, ok := c.seen[e.key]; ok && at.Equal(e.at) {
			delete(c.seen, e.key)
		}
	}
	c.arrival = c.arrival[i:]
}

// evictOverflow drops the oldest entries until the count bound holds.
func (c *Cache) evictOverflow() {
	for len(c.seen) > c.maxEntries && len(c.arrival) > 0 {
		e := c.arrival[0]
		c.arrival = c.arrival[1:]
		if at, ok := c.seen[e.key]; ok && at.Equal(e.at) {
			delete(c.seen, e.key)
		}
	}
}
