// Package manual provides a settable clock for deterministic tests.
package manual

import (
	"sync"
	"time"
)

// Clock only moves when told to.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New returns a Clock frozen at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
