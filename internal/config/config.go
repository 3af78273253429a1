// Package config loads shave settings from defaults, a YAML file and
// SHAVE_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/root4loot/shave/pkg/session"
)

// EnvPrefix is prepended to every environment override, e.g.
// SHAVE_CAPTURE_WIDTH for capture.width.
const EnvPrefix = "SHAVE"

// Config represents the complete shave configuration
type Config struct {
	// Backend selects the session backend: "webdriver", "rod" or "chromedp"
	Backend string `mapstructure:"backend"`
	// Driver is the executable to spawn. Empty uses the backend default.
	Driver string `mapstructure:"driver"`
	// UserAgent overrides the browser user agent when set
	UserAgent string `mapstructure:"user_agent"`
	// Args are the browser launch flags
	Args []string `mapstructure:"args"`

	Capture   CaptureConfig   `mapstructure:"capture"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Batch     BatchConfig     `mapstructure:"batch"`
}

// CaptureConfig controls a single capture sequence
type CaptureConfig struct {
	// Width and Height set the browser window; 0 keeps the backend default
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	// Full captures the whole scrollable page instead of the viewport
	Full bool `mapstructure:"full"`
	// Delay is a fixed pause before the screenshot is taken
	Delay time.Duration `mapstructure:"delay"`
	// WaitTimeout bounds waiting for the await selector
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// RespectCertErrors stops the browser from ignoring TLS errors
	RespectCertErrors bool `mapstructure:"respect_cert_errors"`
	// UseHTTP2 leaves HTTP/2 enabled in the browser
	UseHTTP2 bool `mapstructure:"use_http2"`
}

// DiscoveryConfig controls how long to poll for the driver's port
type DiscoveryConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

// BatchConfig controls the batch command
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// Timeout applies per target, driver startup included (0 disables)
	Timeout            time.Duration `mapstructure:"timeout"`
	OutputFolder       string        `mapstructure:"output_folder"`
	AvoidDuplicates    bool          `mapstructure:"avoid_duplicates"`
	DuplicateThreshold int           `mapstructure:"duplicate_threshold"`
	NoText             bool          `mapstructure:"no_text"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: session.NameWebDriver,
		Args:    session.DefaultArgs(),
		Capture: CaptureConfig{
			Width:       3840,
			Height:      2160,
			WaitTimeout: session.DefaultWaitTimeout,
		},
		Discovery: DiscoveryConfig{
			Timeout:  30 * time.Second,
			Interval: time.Millisecond,
		},
		Batch: BatchConfig{
			Concurrency:        10,
			Timeout:            time.Minute,
			OutputFolder:       "./screenshots",
			DuplicateThreshold: 96,
		},
	}
}

// SetDefaults registers every key of Default with v so that environment
// overrides and Unmarshal see them even without a config file.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("driver", defaults.Driver)
	v.SetDefault("user_agent", defaults.UserAgent)
	v.SetDefault("args", defaults.Args)

	v.SetDefault("capture.width", defaults.Capture.Width)
	v.SetDefault("capture.height", defaults.Capture.Height)
	v.SetDefault("capture.full", defaults.Capture.Full)
	v.SetDefault("capture.delay", defaults.Capture.Delay)
	v.SetDefault("capture.wait_timeout", defaults.Capture.WaitTimeout)
	v.SetDefault("capture.respect_cert_errors", defaults.Capture.RespectCertErrors)
	v.SetDefault("capture.use_http2", defaults.Capture.UseHTTP2)

	v.SetDefault("discovery.timeout", defaults.Discovery.Timeout)
	v.SetDefault("discovery.interval", defaults.Discovery.Interval)

	v.SetDefault("batch.concurrency", defaults.Batch.Concurrency)
	v.SetDefault("batch.timeout", defaults.Batch.Timeout)
	v.SetDefault("batch.output_folder", defaults.Batch.OutputFolder)
	v.SetDefault("batch.avoid_duplicates", defaults.Batch.AvoidDuplicates)
	v.SetDefault("batch.duplicate_threshold", defaults.Batch.DuplicateThreshold)
	v.SetDefault("batch.no_text", defaults.Batch.NoText)
}

// Setup prepares v: defaults, the config file location and environment
// overrides. An empty cfgFile searches ConfigDir and the working directory.
func Setup(v *viper.Viper, cfgFile string) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	// SHAVE_DISCOVERY_TIMEOUT for discovery.timeout
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadFile reads the configured file into v. A missing file is not an
// error unless it was named explicitly.
func ReadFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	return err
}

// Load unmarshals v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the directory searched for config.yaml.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "shave")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shave"
	}
	return filepath.Join(home, ".config", "shave")
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
