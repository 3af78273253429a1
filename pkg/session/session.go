// Package session abstracts the remote automation session a capture run
// drives. A Backend knows how to start its browser-side endpoint and how
// to open a Session against it once the endpoint's port is known.
package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultWaitTimeout bounds WaitForElement when no timeout is configured.
const DefaultWaitTimeout = 30 * time.Second

// Session is a live connection to a browser automation endpoint.
type Session interface {
	SetWindowSize(ctx context.Context, width, height int) error
	Navigate(ctx context.Context, url string) error
	// WaitForElement blocks until selector matches, bounded by the
	// session's wait timeout.
	WaitForElement(ctx context.Context, selector string) error
	FindElement(ctx context.Context, selector string) (Element, error)
	ExecuteScript(ctx context.Context, script string) error
	// Screenshot captures the viewport, or the whole scrollable page
	// when full is set and the backend supports it.
	Screenshot(ctx context.Context, full bool) ([]byte, error)
	Close(ctx context.Context) error
}

// Element is a node located by FindElement.
type Element interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Backend starts a driver endpoint and connects sessions to it.
type Backend interface {
	Name() string
	// Command returns the program and arguments that start an endpoint
	// listening on an OS-chosen loopback port. An empty executable
	// selects the backend's default.
	Command(executable string, caps Capabilities) (string, []string)
	// Connect opens a session against the endpoint at addr (host:port).
	Connect(ctx context.Context, addr string, caps Capabilities) (Session, error)
}

// Window is a browser window size in CSS pixels.
type Window struct {
	Width  int
	Height int
}

// IsZero reports whether no size was requested.
func (w Window) IsZero() bool { return w.Width <= 0 || w.Height <= 0 }

func (w Window) String() string { return fmt.Sprintf("%dx%d", w.Width, w.Height) }

// Capabilities is the immutable configuration a session is created with.
type Capabilities struct {
	args        []string
	userAgent   string
	profileDir  string
	window      Window
	waitTimeout time.Duration
}

// NewCapabilities copies args, so later changes by the caller do not
// leak into the session.
func NewCapabilities(args []string, userAgent, profileDir string, window Window, waitTimeout time.Duration) Capabilities {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return Capabilities{
		args:        slices.Clone(args),
		userAgent:   userAgent,
		profileDir:  profileDir,
		window:      window,
		waitTimeout: waitTimeout,
	}
}

// Args returns a copy of the configured launch flags.
func (c Capabilities) Args() []string { return slices.Clone(c.args) }

func (c Capabilities) UserAgent() string          { return c.userAgent }
func (c Capabilities) ProfileDir() string         { return c.profileDir }
func (c Capabilities) Window() Window             { return c.window }
func (c Capabilities) WaitTimeout() time.Duration { return c.waitTimeout }

// BrowserArgs is the full browser command line: the launch flags, the
// isolated profile directory and the user agent when set.
func (c Capabilities) BrowserArgs() []string {
	args := c.Args()
	if c.profileDir != "" {
		args = append(args, "--user-data-dir="+c.profileDir)
	}
	if c.userAgent != "" {
		args = append(args, "--user-agent="+c.userAgent)
	}
	return args
}

// DefaultArgs returns a fresh copy of the default Chrome flags.
// See https://github.com/puppeteer/puppeteer/blob/4846b8723cf20d3551c0d755df394cc5e0c82a94/src/node/Launcher.ts#L157
func DefaultArgs() []string {
	return []string{
		"--enable-features=NetworkService,NetworkServiceInProcess",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-breakpad",
		"--disable-client-side-phishing-detection",
		"--disable-component-extensions-with-background-pages",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--disable-extensions",
		"--disable-features=TranslateUI",
		"--disable-hang-monitor",
		"--disable-ipc-flooding-protection",
		"--disable-popup-blocking",
		"--disable-prompt-on-repost",
		"--disable-renderer-backgrounding",
		"--disable-sync",
		"--force-color-profile=srgb",
		"--metrics-recording-only",
		"--no-first-run",
		"--enable-automation",
		"--password-store=basic",
		"--use-mock-keychain",
		"--enable-blink-features=IdleDetection",
		"--headless",
		"--hide-scrollbars",
		"--mute-audio",
		"--incognito",
		"--lang=en_US",
	}
}

// Backend names accepted by BackendByName.
const (
	NameWebDriver = "webdriver"
	NameRod       = "rod"
	NameChromedp  = "chromedp"
)

// Backends lists the names of all available backends.
func Backends() []string {
	return []string{NameWebDriver, NameRod, NameChromedp}
}

// BackendByName resolves a backend. The empty name selects WebDriver.
func BackendByName(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameWebDriver:
		return WebDriver{}, nil
	case NameRod:
		return Rod{}, nil
	case NameChromedp:
		return Chromedp{}, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q (want one of %s)", name, strings.Join(Backends(), ", "))
	}
}

// RemoveScript returns a script deleting every element matching selector.
//
// The selector is pasted into the script verbatim and must come from a
// trusted source. A quote in it ends the string literal.
func RemoveScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll('%s').forEach(function(node){node.parentNode.removeChild(node)})`, selector)
}
