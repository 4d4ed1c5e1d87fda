package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a StepClock returns unless told otherwise.
var DefaultEpoch = time.Date(2018, 10, 10, 16, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests. Every call to Now
// returns the previous value plus Step, so committed_at values are stable
// across runs and strictly increasing.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	next  time.Time
}

// NewStepClock creates a clock starting at start and advancing by step.
// A zero start selects DefaultEpoch; a non-positive step selects one second.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	if step <= 0 {
		step = time.Second
	}
	return &StepClock{start: start, step: step, next: start}
}

// Now returns the next instant. Matches the signature of time.Now so it can
// be passed to store.WithNow.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will return.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Reset rewinds the clock to its start.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.start
}
