// Package backoff drives exponential-backoff reconnection for stream
// transports. Each transport instance owns its own supervisor, so session-
// scoped and user-scoped connections never share a retry budget.
package backoff

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy holds the delay curve: Delay(n) = min(Base * 2^n, Cap).
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultPolicy returns the production reconnect curve.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	return p
}

// Delay returns the wait before reconnect attempt n (zero-based). The result
// is non-decreasing in n and never exceeds Cap.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	// Past 62 shifts the multiplication overflows; the cap applies anyway.
	if attempt > 62 {
		return p.Cap
	}
	d := p.Base << uint(attempt)
	if d <= 0 || d > p.Cap {
		return p.Cap
	}
	return d
}

// Supervisor owns the retry counter for one transport instance.
type Supervisor struct {
	policy Policy

	mu      sync.Mutex
	attempt int
}

// NewSupervisor creates a supervisor with the given policy.
func NewSupervisor(policy Policy) *Supervisor {
	return &Supervisor{policy: policy.withDefaults()}
}

// Next returns the delay for the current attempt and advances the counter.
func (s *Supervisor) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.policy.Delay(s.attempt)
	s.attempt++
	return d
}

// Reset zeroes the attempt counter. Called on every successful open.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
}

// Attempt reports the number of failures since the last successful open.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Wait sleeps for the next backoff delay, honoring ctx cancellation. It
// returns the delay it waited, or an error when the context ended first.
func (s *Supervisor) Wait(ctx context.Context) (time.Duration, error) {
	d := s.Next()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("backoff: wait aborted: %w", ctx.Err())
	case <-timer.C:
		return d, nil
	}
}
