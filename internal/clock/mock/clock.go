// Package mock provides a manually advanced clock for tests.
package mock

import (
	"context"
	"sync"
	"time"
)

// Clock advances only when Sleep is called or Advance is invoked. Each Sleep
// call is recorded so tests can assert on exact wait durations.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.Sleeps = append(c.Sleeps, d)
	return nil
}

// Advance moves the clock forward without recording a sleep.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
