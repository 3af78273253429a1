// Package shave captures screenshots of web pages through a throwaway
// browser driver.
//
// A capture spawns the driver, learns its port from the kernel socket
// tables, runs the capture sequence over a session and tears the driver
// down again:
//
//	Created -> Connected -> [Sized] -> Navigated -> [Awaited] -> [Removed] -> Captured -> Closed
package shave

import (
	"context"
	"time"

	"github.com/root4loot/goutils/log"

	"github.com/root4loot/shave/internal/errors"
	"github.com/root4loot/shave/pkg/session"
)

// State is a step of the capture sequence.
type State int

const (
	StateCreated State = iota
	StateConnected
	StateSized
	StateNavigated
	StateAwaited
	StateRemoved
	StateCaptured
	StateClosed
)

var stateNames = [...]string{
	StateCreated:   "created",
	StateConnected: "connected",
	StateSized:     "sized",
	StateNavigated: "navigated",
	StateAwaited:   "awaited",
	StateRemoved:   "removed",
	StateCaptured:  "captured",
	StateClosed:    "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Request describes one capture sequence.
type Request struct {
	URL            string
	Window         session.Window // zero keeps the browser's window size
	AwaitSelector  string
	RemoveSelector string // trusted input, see session.RemoveScript
	Selector       string // element to capture; empty captures the page
	Full           bool
	Delay          time.Duration
}

// capture drives an open session through the sequence and closes it.
// Close runs exactly once on every path; its error never replaces an
// earlier one. onState, if set, observes every state entered.
func capture(ctx context.Context, sess session.Session, req Request, onState func(State)) (img []byte, err error) {
	enter := func(s State) {
		log.Debugf("%s: %s", req.URL, s)
		if onState != nil {
			onState(s)
		}
	}

	enter(StateConnected)

	defer func() {
		// Close even when ctx was cancelled mid-sequence.
		closeErr := errors.Session(errors.StageClose, req.URL, sess.Close(context.WithoutCancel(ctx)))
		if closeErr == nil {
			enter(StateClosed)
		}
		err = errors.WithSecondary(err, closeErr)
		if err != nil {
			img = nil
		}
	}()

	if !req.Window.IsZero() {
		if err := sess.SetWindowSize(ctx, req.Window.Width, req.Window.Height); err != nil {
			return nil, errors.Session(errors.StageSize, req.Window.String(), err)
		}
		enter(StateSized)
	}

	if err := sess.Navigate(ctx, req.URL); err != nil {
		return nil, errors.Session(errors.StageNavigate, req.URL, err)
	}
	enter(StateNavigated)

	if req.AwaitSelector != "" {
		if err := sess.WaitForElement(ctx, req.AwaitSelector); err != nil {
			return nil, errors.Session(errors.StageAwait, req.AwaitSelector, err)
		}
		enter(StateAwaited)
	}

	if req.RemoveSelector != "" {
		if err := sess.ExecuteScript(ctx, session.RemoveScript(req.RemoveSelector)); err != nil {
			return nil, errors.Session(errors.StageRemove, req.RemoveSelector, err)
		}
		enter(StateRemoved)
	}

	if req.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(req.Delay):
		}
	}

	if req.Selector != "" {
		img, err = captureElement(ctx, sess, req.Selector)
	} else {
		img, err = sess.Screenshot(ctx, req.Full)
		err = errors.Session(errors.StageCapture, req.URL, err)
	}
	if err != nil {
		return nil, err
	}
	enter(StateCaptured)

	return img, nil
}

func captureElement(ctx context.Context, sess session.Session, selector string) ([]byte, error) {
	elem, err := sess.FindElement(ctx, selector)
	if err != nil {
		return nil, errors.Session(errors.StageFind, selector, err)
	}
	img, err := elem.Screenshot(ctx)
	if err != nil {
		return nil, errors.Session(errors.StageCapture, selector, err)
	}
	return img, nil
}
