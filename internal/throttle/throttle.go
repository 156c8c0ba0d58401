// Package throttle spaces outbound API calls so that no two start closer
// together than a fixed interval, regardless of how many goroutines are
// asking.
package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between call starts.
const DefaultInterval = 1500 * time.Millisecond

// Throttle holds the start time of the most recent outbound call. The
// zero value is not usable; construct with [New]. A single *Throttle is
// shared by every request handler in the process.
type Throttle struct {
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	// turn is a one-slot semaphore held across read-wait-record.
	// Callers queued on it still see ctx.
	turn chan struct{}

	mu   sync.Mutex // guards last
	last time.Time
}

// Option configures a Throttle built by New.
type Option func(*Throttle)

// WithClock replaces the wall clock and sleep function. Tests use it to
// drive the throttle with a fake clock.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Throttle) {
		t.now = now
		t.sleep = sleep
	}
}

// WithLogger sets the logger used for wait diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Throttle) { t.logger = l }
}

// New creates a Throttle with the given minimum interval. A
// non-positive interval falls back to [DefaultInterval].
func New(interval time.Duration, opts ...Option) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Throttle{
		interval: interval,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
		turn:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Interval returns the configured minimum spacing.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Wait blocks until at least Interval has passed since the previous
// call start, then records and returns the new call start. The recorded
// time is taken after any sleep, so it reflects when the caller is
// actually released.
//
// If ctx ends while queued or waiting, nothing is recorded and ctx's
// error is returned.
func (t *Throttle) Wait(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	select {
	case t.turn <- struct{}{}:
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
	defer func() { <-t.turn }()

	if last := t.Last(); !last.IsZero() {
		elapsed := t.now().Sub(last)
		if wait := t.interval - elapsed; wait > 0 {
			t.logger.Debug("throttling outbound call", "wait", wait.Round(time.Millisecond))
			if err := t.sleep(ctx, wait); err != nil {
				return time.Time{}, err
			}
		}
	}

	start := t.now()
	t.mu.Lock()
	t.last = start
	t.mu.Unlock()
	return start, nil
}

// Last returns the most recently recorded call start, or the zero time
// if no call has been made.
func (t *Throttle) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
