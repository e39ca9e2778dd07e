package testutil

import (
	"sync"
	"time"
)

// Clock is a steppable fake wall clock for tests.
//
// Components take a now func() time.Time option; handing them
// clock.Now lets a test move time forward explicitly instead of
// sleeping. The same scenario stepped the same way produces identical
// timestamps.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time. Pass this method as the now
// option of the component under test.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t. Never use to move backward in a test that
// exercises monotonic behavior.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
