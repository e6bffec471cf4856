// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"sync"
	"time"
)

type (
	// FakeClock is a manually driven clock. After channels fire only when
	// Advance or Set moves the clock past their deadline.
	FakeClock struct {
		mu      sync.Mutex
		now     time.Time
		waiters []waiter
	}

	waiter struct {
		deadline time.Time
		ch       chan time.Time
	}
)

// NewFakeClock returns a clock reading start; the zero time means
// 2026-01-01 UTC so reports never show year one.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock reaches now+d.
// Non-positive durations fire immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Since returns the fake time elapsed since t.
func (c *FakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fire()
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.fire()
}

// fire must be called with mu held.
func (c *FakeClock) fire() {
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if c.now.Before(w.deadline) {
			pending = append(pending, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = pending
}

// Waiters returns the number of After channels that have not fired.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil waits until at least n After calls are pending, so a test can
// Advance past a delay the code under test is already waiting on.
func (c *FakeClock) BlockUntil(ctx context.Context, n int) error {
	for c.Waiters() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}
