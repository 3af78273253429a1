package main

import (
	"github.com/root4loot/goutils/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/root4loot/shave/internal/config"
	"github.com/root4loot/shave/pkg/session"
	"github.com/root4loot/shave/pkg/shave"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	debug   bool
	cfg     *config.Config
}

func newApp() *app {
	return &app{v: viper.New()}
}

func (a *app) rootCmd() *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "shave",
		Short: "Capture screenshots of web pages through a throwaway browser driver",
		Long: `shave spawns a browser driver for every capture, finds the port it
listens on, drives a session against it and tears everything down again.

Settings are read from ` + config.ConfigFile() + ` and SHAVE_* environment
variables; flags take precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.debug {
				log.SetLevel(log.DebugLevel)
			}
			config.Setup(a.v, a.cfgFile)
			return config.ReadFile(a.v)
		},
	}
	cmd.SetVersionTemplate("shave {{.Version}} by " + author + "\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is "+config.ConfigFile()+")")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.String("backend", defaults.Backend, "session backend (webdriver, rod, chromedp)")
	flags.String("driver", defaults.Driver, "driver or browser executable (default depends on backend)")
	flags.String("user-agent", defaults.UserAgent, "set the browser user agent")
	bindFlags(a.v, flags, map[string]string{
		"backend":    "backend",
		"driver":     "driver",
		"user_agent": "user-agent",
	})

	cmd.AddCommand(a.screenshotCmd(), a.batchCmd())
	return cmd
}

// addCaptureFlags registers the flags shared by screenshot and batch.
func addCaptureFlags(flags *pflag.FlagSet) {
	defaults := config.Default()
	flags.Int("width", defaults.Capture.Width, "window width (0 keeps the browser default)")
	flags.Int("height", defaults.Capture.Height, "window height (0 keeps the browser default)")
	flags.Bool("full", defaults.Capture.Full, "capture the full page instead of the viewport")
	flags.Duration("delay", defaults.Capture.Delay, "delay before capturing")
	flags.Duration("wait-timeout", defaults.Capture.WaitTimeout, "how long to wait for --await")
	flags.Bool("respect-cert-err", defaults.Capture.RespectCertErrors, "fail on TLS certificate errors instead of ignoring them")
	flags.Bool("use-http2", defaults.Capture.UseHTTP2, "keep HTTP/2 enabled in the browser")
	flags.Duration("discovery-timeout", defaults.Discovery.Timeout, "how long to wait for the driver to listen")
	flags.StringP("await", "a", "", "CSS selector of an element to wait for before capturing")
	flags.StringP("remove", "r", "", "CSS selector of elements to remove before capturing")
	flags.StringP("selector", "s", "", "CSS selector of the element to capture")
}

var captureKeys = map[string]string{
	"capture.width":               "width",
	"capture.height":              "height",
	"capture.full":                "full",
	"capture.delay":               "delay",
	"capture.wait_timeout":        "wait-timeout",
	"capture.respect_cert_errors": "respect-cert-err",
	"capture.use_http2":           "use-http2",
	"discovery.timeout":           "discovery-timeout",
}

// bindFlags binds config keys to flags. Subcommands bind in PreRunE
// because screenshot and batch share flag names.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// load reads the effective configuration once flags are bound.
func (a *app) load() (*config.Config, error) {
	cfg, err := config.Load(a.v)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return cfg, nil
}

// clientOptions maps the configuration and the per-invocation selector
// flags onto capture options.
func clientOptions(cfg *config.Config, flags *pflag.FlagSet) shave.Options {
	opts := shave.NewOptions()
	opts.Backend = cfg.Backend
	opts.DriverPath = cfg.Driver
	opts.UserAgent = cfg.UserAgent
	opts.Args = append([]string(nil), cfg.Args...)
	if len(opts.Args) == 0 {
		opts.Args = session.DefaultArgs()
	}
	opts.CaptureWidth = cfg.Capture.Width
	opts.CaptureHeight = cfg.Capture.Height
	opts.CaptureFull = cfg.Capture.Full
	opts.DelayBeforeCapture = cfg.Capture.Delay
	opts.WaitTimeout = cfg.Capture.WaitTimeout
	opts.RespectCertificateErrors = cfg.Capture.RespectCertErrors
	opts.UseHTTP2 = cfg.Capture.UseHTTP2
	opts.DiscoveryTimeout = cfg.Discovery.Timeout
	opts.DiscoveryInterval = cfg.Discovery.Interval

	opts.AwaitSelector, _ = flags.GetString("await")
	opts.RemoveSelector, _ = flags.GetString("remove")
	opts.Selector, _ = flags.GetString("selector")
	return opts
}
