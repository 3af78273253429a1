package session

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/root4loot/goutils/log"

	"github.com/root4loot/shave/internal/errors"
)

// Chromedp drives a Chrome started with an OS-chosen DevTools port using
// chromedp's remote allocator.
type Chromedp struct{}

func (Chromedp) Name() string { return NameChromedp }

func (Chromedp) Command(executable string, caps Capabilities) (string, []string) {
	return chromeCommand(executable, caps)
}

func (Chromedp) Connect(ctx context.Context, addr string, caps Capabilities) (Session, error) {
	// The allocator outlives Connect's context; Close releases it.
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), "ws://"+addr)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Debugf))

	s := &chromedpSession{
		ctx:    tabCtx,
		caps:   caps,
		cancel: func() { cancelTab(); cancelAlloc() },
	}

	// The first Run attaches to the browser and opens the tab. It must run
	// on tabCtx itself: the allocator ties the connection to the context
	// of that call.
	stop := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		s.cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return s, nil
}

type chromedpSession struct {
	ctx    context.Context
	caps   Capabilities
	cancel func()
}

// run executes actions on the tab, aborting when ctx ends.
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (s *chromedpSession) SetWindowSize(ctx context.Context, width, height int) error {
	return s.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false))
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromedpSession) WaitForElement(ctx context.Context, selector string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.caps.WaitTimeout())
	defer cancel()
	return s.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (s *chromedpSession) FindElement(ctx context.Context, selector string) (Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errors.ErrNotFound
	}
	return chromedpElement{s: s, id: nodes[0].NodeID}, nil
}

func (s *chromedpSession) ExecuteScript(ctx context.Context, script string) error {
	return s.run(ctx, chromedp.Evaluate(script, nil))
}

func (s *chromedpSession) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if full {
		// Quality 100 keeps the PNG encoding.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close detaches from the tab and releases the allocator.
func (s *chromedpSession) Close(context.Context) error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}

type chromedpElement struct {
	s  *chromedpSession
	id cdp.NodeID
}

func (e chromedpElement) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := e.s.run(ctx, chromedp.Screenshot([]cdp.NodeID{e.id}, &buf, chromedp.ByNodeID)); err != nil {
		return nil, err
	}
	return buf, nil
}
