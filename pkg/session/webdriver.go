package session

import (
	"context"
	"fmt"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"github.com/root4loot/shave/internal/errors"
)

// WebDriver drives Chrome through a chromedriver process speaking the W3C
// WebDriver protocol.
type WebDriver struct{}

func (WebDriver) Name() string { return NameWebDriver }

// Command runs chromedriver on an OS-chosen port. The browser flags are
// sent later with the session capabilities.
func (WebDriver) Command(executable string, _ Capabilities) (string, []string) {
	if executable == "" {
		executable = "chromedriver"
	}
	return executable, []string{"--port=0"}
}

func (WebDriver) Connect(ctx context.Context, addr string, caps Capabilities) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wdCaps := selenium.Capabilities{"browserName": "chrome"}
	wdCaps.AddChrome(chrome.Capabilities{Args: caps.BrowserArgs()})

	wd, err := selenium.NewRemote(wdCaps, "http://"+addr)
	if err != nil {
		return nil, err
	}
	return &webDriverSession{wd: wd, wait: caps.WaitTimeout()}, nil
}

type webDriverSession struct {
	wd   selenium.WebDriver
	wait time.Duration
}

func (s *webDriverSession) SetWindowSize(ctx context.Context, width, height int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// An empty handle addresses the current window.
	return s.wd.ResizeWindow("", width, height)
}

func (s *webDriverSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.wd.Get(url)
}

func (s *webDriverSession) WaitForElement(ctx context.Context, selector string) error {
	return s.wd.WaitWithTimeout(func(wd selenium.WebDriver) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		_, err := wd.FindElement(selenium.ByCSSSelector, selector)
		return err == nil, nil
	}, s.wait)
}

func (s *webDriverSession) FindElement(ctx context.Context, selector string) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	elem, err := s.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		var wdErr *selenium.Error
		if errors.As(err, &wdErr) && wdErr.Err == "no such element" {
			return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, wdErr.Message)
		}
		return nil, err
	}
	return webDriverElement{elem}, nil
}

func (s *webDriverSession) ExecuteScript(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.wd.ExecuteScript(script, nil)
	return err
}

// Screenshot ignores full: WebDriver only captures the viewport.
func (s *webDriverSession) Screenshot(ctx context.Context, _ bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.wd.Screenshot()
}

// Close ends the WebDriver session. It runs even after the context is
// done so the driver is not left holding a browser.
func (s *webDriverSession) Close(context.Context) error {
	return s.wd.Quit()
}

type webDriverElement struct {
	elem selenium.WebElement
}

func (e webDriverElement) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.elem.Screenshot(true)
}
