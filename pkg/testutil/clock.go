package testutil

import (
	"sync"
	"time"
)

// FakeClock advances instantly on After and records every requested wait.
// Thread-safe.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewFakeClock creates a clock starting at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns a channel that has fired.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Sleep advances the clock by d.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Waits returns the recorded waits.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// BlockingClock never fires; used to prove cancellation preempts waiting.
type BlockingClock struct{}

// Now returns the wall clock.
func (BlockingClock) Now() time.Time { return time.Now() }

// After returns a channel that never fires.
func (BlockingClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }
