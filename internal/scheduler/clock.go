package scheduler

import (
	"context"
	"time"
)

// Clock is the scheduler's only source of time. Tests substitute a clock
// that advances instantly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the system clock. Now keeps its monotonic reading so step
// timing and waits are immune to wall-clock steps; convert with UTC only
// when formatting.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// sleep blocks for d or until ctx is done. A non-positive d returns at once.
func sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
