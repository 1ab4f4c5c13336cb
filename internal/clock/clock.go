// Package clock abstracts time for the polling loop and the dispatcher so
// throttle and backoff paths can be driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock is the time source injected into every component that waits.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until the context is cancelled, in which case
	// it returns the context error.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// System returns a Clock backed by the wall clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
