// Package retry provides the poll-until-timeout loop used while waiting
// for a freshly spawned process to become reachable. What counts as
// success is decided by the caller's attempt function.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	shaveerrors "github.com/root4loot/shave/internal/errors"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable. Until returns the inner error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Clock ────────────────────────────────────────────────────────────

// Clock is the time source Until measures its deadline with.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WallClock is the real time source.
var WallClock Clock = wallClock{}

// ── Policy ───────────────────────────────────────────────────────────

// Policy bounds a poll loop.
type Policy struct {
	// Timeout is measured from the first attempt.
	Timeout time.Duration
	// Interval is the pause between two attempts.
	Interval time.Duration
	// Clock defaults to WallClock.
	Clock Clock
}

// Until calls attempt until it reports done, returns a permanent error,
// the context ends, or the policy's timeout has elapsed.
//
// A non-permanent error from attempt counts as "not done yet"; the last
// such error is joined to ErrTimeout when the loop gives up.
func Until[T any](ctx context.Context, p Policy, attempt func() (T, bool, error)) (T, error) {
	var zero T

	clock := p.Clock
	if clock == nil {
		clock = WallClock
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}

	start := clock.Now()
	var last error

	for {
		v, done, err := attempt()
		var pe *PermanentError
		switch {
		case errors.As(err, &pe):
			return zero, pe.Err
		case err == nil && done:
			return v, nil
		case err != nil:
			last = err
		}

		if clock.Now().Sub(start) >= p.Timeout {
			if last != nil {
				return zero, fmt.Errorf("%w: %w", shaveerrors.ErrTimeout, last)
			}
			return zero, shaveerrors.ErrTimeout
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-clock.After(interval):
		}
	}
}
