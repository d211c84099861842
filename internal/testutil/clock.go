// Package testutil holds deterministic collaborators for tests: a manual
// clock and a predictable transaction token generator. Both exist so the
// same scenario produces byte-identical traces on every run.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe manual clock for tests. It starts
// at a fixed epoch and only moves when told to, either by Advance or by
// a per-read Step.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// Epoch is the starting instant of every DeterministicClock.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDeterministicClock creates a clock frozen at Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch}
}

// WithStep makes every Now call advance the clock by d after reading.
// A zero d freezes the clock again.
func (c *DeterministicClock) WithStep(d time.Duration) *DeterministicClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
	return c
}

// Now returns the current instant, then applies the configured step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to a specific instant.
func (c *DeterministicClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Reset returns the clock to Epoch with no step, for test reuse.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
	c.step = 0
}
