// Package errors provides the error types shared by the discovery,
// driver and session layers.
//
// Each type carries the context needed to diagnose a failed run without
// re-running it (pid, executable, url, selector) and unwraps to the
// underlying cause.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrTimeout        = errors.New("operation timed out")
	ErrAlreadySpawned = errors.New("driver process already spawned")
	ErrNotFound       = errors.New("element not found")
)

// ── Stages ───────────────────────────────────────────────────────────

// Stage names the step of a capture run that produced a SessionError.
type Stage string

const (
	StageConnect  Stage = "connect"
	StageSize     Stage = "size"
	StageNavigate Stage = "navigate"
	StageAwait    Stage = "await"
	StageRemove   Stage = "remove"
	StageFind     Stage = "find"
	StageCapture  Stage = "capture"
	StageClose    Stage = "close"
)

// ── Structured error types ───────────────────────────────────────────

// LaunchError reports that the driver executable could not be started.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch `%s` instance: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IOError reports that a kernel-exposed file or directory could not be
// read at all.
type IOError struct {
	Op   string // "open", "read", "readdir"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ParseError reports a single malformed connection table line.
type ParseError struct {
	Field string // "local address", "address", "port", "inode"
	Line  string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encountered malformed %s in proc tcp line %q: %v", e.Field, e.Line, e.Err)
	}
	return fmt.Sprintf("encountered malformed %s in proc tcp line %q", e.Field, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TimeoutError reports that no loopback port bound by PID was found
// before the discovery timeout elapsed. Err holds the failure of the
// last attempt, if any.
type TimeoutError struct {
	PID     int
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("failed to find local host port for process %d within %s", e.PID, e.Timeout)
	if e.Err != nil && e.Err != ErrTimeout {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTimeout) hold for every TimeoutError.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// SessionError reports a failed step against the remote automation
// session. Target is the endpoint, url or selector involved.
type SessionError struct {
	Stage  Stage
	Target string
	Err    error
}

func (e *SessionError) Error() string {
	switch e.Stage {
	case StageConnect:
		return fmt.Sprintf("failed to connect to %s: %v", e.Target, e.Err)
	case StageSize:
		return fmt.Sprintf("failed to set window size to %s: %v", e.Target, e.Err)
	case StageNavigate:
		return fmt.Sprintf("failed to navigate to %s: %v", e.Target, e.Err)
	case StageClose:
		return fmt.Sprintf("failed to close webdriver client connection: %v", e.Err)
	case StageCapture:
		return fmt.Sprintf("failed to screenshot `%s`: %v", e.Target, e.Err)
	default:
		return fmt.Sprintf("failed to %s `%s`: %v", e.Stage, e.Target, e.Err)
	}
}

func (e *SessionError) Unwrap() error { return e.Err }

// TeardownError reports a failure while releasing run resources. It is
// secondary: it never replaces an earlier error of the same run.
type TeardownError struct {
	Op     string // "kill", "wait", "remove"
	Target string // pid or path
	Err    error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// CompoundError carries a primary error together with a secondary one
// raised while cleaning up after it.
type CompoundError struct {
	Primary   error
	Secondary error
}

func (e *CompoundError) Error() string {
	return fmt.Sprintf("%v (additionally: %v)", e.Primary, e.Secondary)
}

// Unwrap exposes only the primary error so that errors.As/Is classify
// the run by what failed first.
func (e *CompoundError) Unwrap() error { return e.Primary }

// ── Constructors ─────────────────────────────────────────────────────

// WithSecondary demotes secondary behind primary. If either is nil the
// other is returned unchanged.
func WithSecondary(primary, secondary error) error {
	switch {
	case secondary == nil:
		return primary
	case primary == nil:
		return secondary
	default:
		return &CompoundError{Primary: primary, Secondary: secondary}
	}
}

// Session wraps err as a SessionError for the given stage.
func Session(stage Stage, target string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{Stage: stage, Target: target, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// StageOf returns the stage of the first SessionError in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// SecondaryOf returns the secondary error of a CompoundError, if any.
func SecondaryOf(err error) error {
	var ce *CompoundError
	if errors.As(err, &ce) {
		return ce.Secondary
	}
	return nil
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
