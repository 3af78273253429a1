package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root4loot/shave/pkg/session"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, session.NameWebDriver, cfg.Backend)
	assert.Equal(t, session.DefaultArgs(), cfg.Args)
	assert.Equal(t, 3840, cfg.Capture.Width)
	assert.Equal(t, 2160, cfg.Capture.Height)
	assert.Equal(t, 30*time.Second, cfg.Discovery.Timeout)
	assert.Equal(t, time.Millisecond, cfg.Discovery.Interval)
	assert.Equal(t, 10, cfg.Batch.Concurrency)
	assert.Equal(t, 96, cfg.Batch.DuplicateThreshold)
	assert.Empty(t, cfg.Validate())
}

func setupIsolated(t *testing.T, cfgFile string) *viper.Viper {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v := viper.New()
	Setup(v, cfgFile)
	return v
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	v := setupIsolated(t, "")
	require.NoError(t, ReadFile(v))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: rod
user_agent: shave-test
capture:
  width: 800
  height: 600
  delay: 2s
discovery:
  timeout: 5s
  interval: 10ms
batch:
  concurrency: 3
`), 0o600))

	v := setupIsolated(t, path)
	require.NoError(t, ReadFile(v))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, session.NameRod, cfg.Backend)
	assert.Equal(t, "shave-test", cfg.UserAgent)
	assert.Equal(t, 800, cfg.Capture.Width)
	assert.Equal(t, 600, cfg.Capture.Height)
	assert.Equal(t, 2*time.Second, cfg.Capture.Delay)
	assert.Equal(t, 5*time.Second, cfg.Discovery.Timeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Discovery.Interval)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
	// untouched keys keep their defaults
	assert.Equal(t, session.DefaultWaitTimeout, cfg.Capture.WaitTimeout)
	assert.Equal(t, "./screenshots", cfg.Batch.OutputFolder)
}

func TestLoadFromConfigDir(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "shave"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "shave", "config.yaml"), []byte("backend: chromedp\n"), 0o600))

	assert.Equal(t, filepath.Join(xdg, "shave", "config.yaml"), ConfigFile())

	v := viper.New()
	Setup(v, "")
	require.NoError(t, ReadFile(v))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, session.NameChromedp, cfg.Backend)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SHAVE_DISCOVERY_TIMEOUT", "7s")
	t.Setenv("SHAVE_BATCH_CONCURRENCY", "4")
	v := setupIsolated(t, "")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Discovery.Timeout)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
}

func TestReadFileExplicitMissing(t *testing.T) {
	v := setupIsolated(t, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, ReadFile(v))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "netscape" }, "backend"},
		{"half window", func(c *Config) { c.Capture.Height = 0 }, "capture.width"},
		{"negative window", func(c *Config) { c.Capture.Width = -1 }, "capture.width"},
		{"negative delay", func(c *Config) { c.Capture.Delay = -time.Second }, "capture.delay"},
		{"negative wait", func(c *Config) { c.Capture.WaitTimeout = -time.Second }, "capture.wait_timeout"},
		{"zero discovery timeout", func(c *Config) { c.Discovery.Timeout = 0 }, "discovery.timeout"},
		{"zero interval", func(c *Config) { c.Discovery.Interval = 0 }, "discovery.interval"},
		{"interval above timeout", func(c *Config) { c.Discovery.Interval = time.Minute }, "discovery.interval"},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
		{"negative batch timeout", func(c *Config) { c.Batch.Timeout = -time.Second }, "batch.timeout"},
		{"threshold too high", func(c *Config) { c.Batch.DuplicateThreshold = 101 }, "batch.duplicate_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	cfg := Default()
	cfg.Backend = "netscape"
	cfg.Batch.Concurrency = 0

	errs := ValidationErrors(cfg.Validate())
	require.Len(t, errs, 2)
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "backend: must be one of webdriver, rod, chromedp")

	assert.Equal(t, "batch.concurrency: must be at least 1 (got: 0)", errs[1].Error())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SHAVE_BACKEND", "netscape")
	v := setupIsolated(t, "")

	_, err := Load(v)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "backend", verrs[0].Field)
}
