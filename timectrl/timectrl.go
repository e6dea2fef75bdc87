package timectrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStalled is returned by Await when the condition is not met before the
// configured timeout.
var ErrStalled = errors.New("stalled")

// Clock is the time source the flight controller waits on. Production code uses
// WallClock; tests and dry runs use ManualClock so that long coasts complete
// instantly and deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// WallClock is a Clock backed by the process clock.
type WallClock struct{}

// Now implements Clock.
func (WallClock) Now() time.Time { return time.Now() }

// Sleep implements Clock.
func (WallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ManualClock only moves when Sleep, Advance or Set is called. Listeners are
// notified after every move, which lets simulated providers follow the clock.
type ManualClock struct {
	mu        sync.RWMutex
	now       time.Time
	listeners []func(time.Time)
}

// NewManualClock constructs a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Sleep implements Clock by advancing the clock by d.
func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.notify(now)
}

// Set jumps the clock to t if t is later than the current time.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	if !t.After(c.now) {
		c.mu.Unlock()
		return
	}
	c.now = t
	c.mu.Unlock()
	c.notify(t)
}

// AddListener registers a callback invoked every time the clock moves.
func (c *ManualClock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *ManualClock) notify(now time.Time) {
	c.mu.RLock()
	listeners := append([]func(time.Time){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(now)
	}
}

// AwaitOptions bounds a blocking wait.
type AwaitOptions struct {
	// Poll is the pause between two evaluations of the condition.
	Poll time.Duration
	// Timeout is the maximum time to wait. Zero waits forever.
	Timeout time.Duration
	// Name labels the wait in ErrStalled messages.
	Name string
}

// Condition reports whether a wait is over. An error ends the wait immediately.
type Condition func(ctx context.Context) (bool, error)

// Await evaluates cond until it reports true, returns an error, ctx is done or
// the timeout expires. The condition is always evaluated at least once.
func Await(ctx context.Context, clock Clock, opts AwaitOptions, cond Condition) error {
	if clock == nil {
		clock = WallClock{}
	}
	start := clock.Now()
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if opts.Timeout > 0 && clock.Now().Sub(start) >= opts.Timeout {
			name := opts.Name
			if name == "" {
				name = "condition"
			}
			return fmt.Errorf("%s not met after %s: %w", name, opts.Timeout, ErrStalled)
		}
		if err := clock.Sleep(ctx, opts.Poll); err != nil {
			return err
		}
	}
}
