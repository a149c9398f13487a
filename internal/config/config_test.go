package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:3000/", cfg.URL)
	assert.Equal(t, "#home-balance", cfg.BalanceSelector)
	assert.Equal(t, "#budget-widget-container", cfg.WidgetSelector)
	assert.Equal(t, 5*time.Second, cfg.WaitTimeout)
	assert.Equal(t, "verification_error.png", cfg.ErrorScreenshotPath())
	assert.Equal(t, "verification_home.png", cfg.SuccessScreenshotPath())
	assert.True(t, cfg.Headless)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homecheck.yaml")
	body := `
url: http://127.0.0.1:8080/app
wait_timeout: 2s
engine: rod
output_dir: shots
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("HOMECHECK_TIMEOUT", "750")
	t.Setenv("HOMECHECK_HEADLESS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080/app", cfg.URL)
	assert.Equal(t, EngineRod, cfg.Engine)
	assert.Equal(t, 750*time.Millisecond, cfg.WaitTimeout)
	assert.False(t, cfg.Headless)
	assert.Equal(t, "#home-balance", cfg.BalanceSelector, "unset fields keep defaults")
	assert.Equal(t, filepath.Join("shots", "verification_home.png"), cfg.SuccessScreenshotPath())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		t.Setenv("HOMECHECK_TIMEOUT", "soon")
		cfg := Default()
		require.ErrorIs(t, cfg.ApplyEnv(), ErrInvalid)
	})
	t.Run("timeout overflow", func(t *testing.T) {
		t.Setenv("HOMECHECK_TIMEOUT", "9223372036854775807")
		cfg := Default()
		require.ErrorIs(t, cfg.ApplyEnv(), ErrInvalid)
	})
	t.Run("timeout past max", func(t *testing.T) {
		t.Setenv("HOMECHECK_TIMEOUT", "600001")
		cfg := Default()
		require.ErrorIs(t, cfg.ApplyEnv(), ErrInvalid)
	})
	t.Run("headless", func(t *testing.T) {
		t.Setenv("HOMECHECK_HEADLESS", "maybe")
		cfg := Default()
		require.ErrorIs(t, cfg.ApplyEnv(), ErrInvalid)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad scheme", func(c *Config) { c.URL = "ftp://localhost/" }},
		{"empty balance selector", func(c *Config) { c.BalanceSelector = " " }},
		{"empty widget selector", func(c *Config) { c.WidgetSelector = "" }},
		{"zero timeout", func(c *Config) { c.WaitTimeout = 0 }},
		{"timeout past max", func(c *Config) { c.WaitTimeout = MaxWaitTimeout + time.Millisecond }},
		{"missing screenshot", func(c *Config) { c.SuccessScreenshot = "" }},
		{"unknown engine", func(c *Config) { c.Engine = "selenium" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestScreenshotPathKeepsAbsolute(t *testing.T) {
	cfg := Default()
	cfg.OutputDir = "out"
	abs := filepath.Join(t.TempDir(), "err.png")
	cfg.ErrorScreenshot = abs
	assert.Equal(t, abs, cfg.ErrorScreenshotPath())
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homecheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: http://from-file:3000/\nengine: rod\n"), 0o644))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-config", path, "-timeout", "2s", "-fail-on-timeout"}))

	cfg, err := flags.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://from-file:3000/", cfg.URL, "unset -url keeps the file value")
	assert.Equal(t, EngineRod, cfg.Engine)
	assert.Equal(t, 2*time.Second, cfg.WaitTimeout)
	assert.True(t, cfg.FailOnTimeout)
}

func TestFlagsValidate(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-engine", "netscape"}))

	_, err := flags.Load()
	require.ErrorIs(t, err, ErrInvalid)
}

func TestMillisTimeout(t *testing.T) {
	d, err := MillisTimeout(1500)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = MillisTimeout(MaxWaitTimeout.Milliseconds())
	require.NoError(t, err)
	assert.Equal(t, MaxWaitTimeout, d)

	for _, ms := range []int64{0, -1, MaxWaitTimeout.Milliseconds() + 1, 1 << 62} {
		_, err := MillisTimeout(ms)
		assert.Error(t, err, "ms=%d", ms)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HOMECHECK_ENGINE=rod\n"), 0o644))
		t.Chdir(dir)
		// godotenv never overrides variables already set; register cleanup first.
		t.Setenv("HOMECHECK_ENGINE", "")
		require.NoError(t, os.Unsetenv("HOMECHECK_ENGINE"))

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, EngineRod, cfg.Engine)
	})
	t.Run("malformed", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HOMECHECK_URL=\"http://unterminated\n"), 0o644))
		t.Chdir(dir)

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".env")
	})
	t.Run("missing", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, err := Load("")
		require.NoError(t, err)
	})
}
