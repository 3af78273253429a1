package shave

import (
	"context"
	"net/netip"
	"net/url"
	"sync"
	"time"

	"github.com/root4loot/goutils/log"

	"github.com/root4loot/shave/internal/errors"
	"github.com/root4loot/shave/pkg/driver"
	"github.com/root4loot/shave/pkg/procnet"
	"github.com/root4loot/shave/pkg/session"
)

// Client captures screenshots. Every capture is an independent run with
// its own driver process, profile directory and session.
type Client struct {
	Debug   bool
	Options Options

	mu      sync.Mutex
	backend session.Backend
}

// Options contains the options for capturing screenshots.
type Options struct {
	Backend            string        // webdriver, rod or chromedp
	DriverPath         string        // Driver or browser executable; empty selects the backend default
	Args               []string      // Browser flags; nil selects session.DefaultArgs
	UserAgent          string        // User agent
	CaptureWidth       int           // Width of the window (0 keeps the browser default)
	CaptureHeight      int           // Height of the window (0 keeps the browser default)
	WaitTimeout        time.Duration // Bound for AwaitSelector
	DiscoveryTimeout   time.Duration // Bound for finding the driver's port
	DiscoveryInterval  time.Duration // Pause between two port lookups
	AwaitSelector      string        // Element to wait for before capturing
	RemoveSelector     string        // Elements to remove before capturing
	Selector           string        // Element to capture instead of the page
	CaptureFull        bool          // Take a full-page screenshot when Selector is empty
	DelayBeforeCapture time.Duration // Delay between navigation and capture

	RespectCertificateErrors bool // Fail on TLS errors instead of ignoring them
	UseHTTP2                 bool // Keep HTTP/2 enabled
}

// NewOptions returns an Options struct initialized with default values.
func NewOptions() Options {
	return Options{
		Backend:           session.NameWebDriver,
		DriverPath:        "",
		Args:              session.DefaultArgs(),
		CaptureWidth:      3840,
		CaptureHeight:     2160,
		WaitTimeout:       session.DefaultWaitTimeout,
		DiscoveryTimeout:  procnet.DefaultDiscoverTimeout,
		DiscoveryInterval: procnet.DefaultDiscoverInterval,
	}
}

// NewClient creates a Client with default options.
func NewClient() *Client {
	return NewClientWithOptions(NewOptions())
}

// NewClientWithOptions creates a Client with the provided options.
func NewClientWithOptions(options Options) *Client {
	return &Client{Options: options}
}

// SetDebug enables or disables debug logging.
func (c *Client) SetDebug(debug bool) {
	c.Debug = debug
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// SetBackend overrides the backend named in Options.
func (c *Client) SetBackend(b session.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = b
}

func (c *Client) resolveBackend() (session.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		return c.backend, nil
	}
	return session.BackendByName(c.Options.Backend)
}

// CaptureScreenshot spawns a driver, waits for it to bind a loopback
// port, captures target and tears everything down again.
//
// The driver process and profile directory are released on every path.
// A teardown failure is reported after the error that ended the run.
func (c *Client) CaptureScreenshot(ctx context.Context, target *url.URL) (result *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	backend, err := c.resolveBackend()
	if err != nil {
		return nil, err
	}

	mgr, err := driver.NewManager()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.WithSecondary(err, mgr.Teardown())
		if err != nil {
			result = nil
		}
	}()

	caps := c.capabilities(mgr.ProfileDir())
	executable, args := backend.Command(c.Options.DriverPath, caps)

	proc, err := mgr.Spawn(executable, args...)
	if err != nil {
		return nil, err
	}

	port, err := procnet.DiscoverPort(ctx, proc.PID(), c.discoverOptions())
	if err != nil {
		return nil, err
	}

	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port).String()
	log.Debugf("%s (pid %d) listening on %s", executable, proc.PID(), addr)

	sess, err := backend.Connect(ctx, addr, caps)
	if err != nil {
		return nil, errors.Session(errors.StageConnect, "http://"+addr, err)
	}

	img, err := capture(ctx, sess, c.request(target), nil)
	if err != nil {
		return nil, err
	}

	return &Result{
		TargetURL: target.String(),
		Selector:  c.Options.Selector,
		Image:     img,
	}, nil
}

// discoverOptions falls back to the stock policy for unset bounds.
func (c *Client) discoverOptions() procnet.DiscoverOptions {
	opts := procnet.DefaultDiscoverOptions()
	if c.Options.DiscoveryTimeout > 0 {
		opts.Timeout = c.Options.DiscoveryTimeout
	}
	if c.Options.DiscoveryInterval > 0 {
		opts.Interval = c.Options.DiscoveryInterval
	}
	return opts
}

func (c *Client) capabilities(profileDir string) session.Capabilities {
	args := c.Options.Args
	if args == nil {
		args = session.DefaultArgs()
	}
	args = append([]string(nil), args...)
	if !c.Options.RespectCertificateErrors {
		args = append(args, "--ignore-certificate-errors")
	}
	if !c.Options.UseHTTP2 {
		args = append(args, "--disable-http2")
	}
	return session.NewCapabilities(
		args,
		c.Options.UserAgent,
		profileDir,
		session.Window{Width: c.Options.CaptureWidth, Height: c.Options.CaptureHeight},
		c.Options.WaitTimeout,
	)
}

func (c *Client) request(target *url.URL) Request {
	return Request{
		URL:            target.String(),
		Window:         session.Window{Width: c.Options.CaptureWidth, Height: c.Options.CaptureHeight},
		AwaitSelector:  c.Options.AwaitSelector,
		RemoveSelector: c.Options.RemoveSelector,
		Selector:       c.Options.Selector,
		Full:           c.Options.CaptureFull,
		Delay:          c.Options.DelayBeforeCapture,
	}
}
