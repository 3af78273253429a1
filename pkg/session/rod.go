package session

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/root4loot/shave/internal/errors"
)

// Rod drives a Chrome started with an OS-chosen DevTools port using the
// rod CDP client.
type Rod struct{}

func (Rod) Name() string { return NameRod }

func (Rod) Command(executable string, caps Capabilities) (string, []string) {
	return chromeCommand(executable, caps)
}

func (Rod) Connect(ctx context.Context, addr string, caps Capabilities) (Session, error) {
	wsURL, err := launcher.ResolveURL(addr)
	if err != nil {
		return nil, fmt.Errorf("resolve devtools url: %w", err)
	}

	// The connection must survive ctx so that Close still works after a
	// cancelled capture. Calls are bound to their own ctx below.
	browser := rod.New().ControlURL(wsURL).Context(context.WithoutCancel(ctx))
	if err := browser.Connect(); err != nil {
		return nil, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return nil, err
	}
	return &rodSession{browser: browser, page: page, caps: caps}, nil
}

// chromeCommand launches Chrome itself with the DevTools endpoint bound
// to a loopback port picked by the OS.
func chromeCommand(executable string, caps Capabilities) (string, []string) {
	if executable == "" {
		executable = "google-chrome"
		if path, ok := launcher.LookPath(); ok {
			executable = path
		}
	}
	args := append(caps.BrowserArgs(),
		"--remote-debugging-address=127.0.0.1",
		"--remote-debugging-port=0",
		"about:blank",
	)
	return executable, args
}

type rodSession struct {
	browser *rod.Browser
	page    *rod.Page
	caps    Capabilities
}

func (s *rodSession) SetWindowSize(ctx context.Context, width, height int) error {
	return s.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (s *rodSession) WaitForElement(ctx context.Context, selector string) error {
	_, err := s.page.Context(ctx).Timeout(s.caps.WaitTimeout()).Element(selector)
	return err
}

func (s *rodSession) FindElement(ctx context.Context, selector string) (Element, error) {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, errors.ErrNotFound
	}
	return rodElement{el}, nil
}

func (s *rodSession) ExecuteScript(ctx context.Context, script string) error {
	_, err := s.page.Context(ctx).Eval("() => { " + script + " }")
	return err
}

func (s *rodSession) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(full, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close shuts the browser down over the protocol. The driver teardown
// kills the process regardless.
func (s *rodSession) Close(context.Context) error {
	return s.browser.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e rodElement) Screenshot(ctx context.Context) ([]byte, error) {
	return e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}
