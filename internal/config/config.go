package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Engine names accepted by Config.Engine.
const (
	EnginePlaywright = "playwright"
	EngineRod        = "rod"
)

// Default values for a check against the local ledger app.
const (
	DefaultURL               = "http://localhost:3000/"
	DefaultBalanceSelector   = "#home-balance"
	DefaultWidgetSelector    = "#budget-widget-container"
	DefaultWaitTimeout       = 5000 * time.Millisecond
	DefaultErrorScreenshot   = "verification_error.png"
	DefaultSuccessScreenshot = "verification_home.png"

	// MaxWaitTimeout caps WaitTimeout from any source.
	MaxWaitTimeout = 10 * time.Minute
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config describes a single home page check.
type Config struct {
	// URL is the page the browser navigates to.
	URL string `yaml:"url"`
	// BalanceSelector locates the element whose text is read. The check
	// fails early if it does not appear within WaitTimeout.
	BalanceSelector string `yaml:"balance_selector"`
	// WidgetSelector locates the optional budget widget. Its absence is
	// never an error.
	WidgetSelector string `yaml:"widget_selector"`
	// WaitTimeout bounds the wait for BalanceSelector. No other step has
	// a timeout of its own.
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	// OutputDir is where screenshots are written. Empty means the working
	// directory.
	OutputDir         string `yaml:"output_dir"`
	ErrorScreenshot   string `yaml:"error_screenshot"`
	SuccessScreenshot string `yaml:"success_screenshot"`

	Engine   string `yaml:"engine"`
	Headless bool   `yaml:"headless"`
	// InstallBrowsers downloads the playwright chromium build before launch.
	InstallBrowsers bool `yaml:"install_browsers"`
	// InitScript is an optional JS file evaluated on every new document
	// before navigation, e.g. to seed localStorage fixtures.
	InitScript string `yaml:"init_script"`
	// FailOnTimeout makes an element timeout a failing exit status.
	FailOnTimeout bool `yaml:"fail_on_timeout"`
}

// Default returns the configuration the check runs with when nothing is
// overridden.
func Default() Config {
	return Config{
		URL:               DefaultURL,
		BalanceSelector:   DefaultBalanceSelector,
		WidgetSelector:    DefaultWidgetSelector,
		WaitTimeout:       DefaultWaitTimeout,
		ErrorScreenshot:   DefaultErrorScreenshot,
		SuccessScreenshot: DefaultSuccessScreenshot,
		Engine:            EnginePlaywright,
		Headless:          true,
	}
}

// Load layers defaults, the optional YAML file at path, a .env file in the
// working directory and HOMECHECK_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	// A missing .env is the normal case; a malformed one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from HOMECHECK_* environment variables.
func (c *Config) ApplyEnv() error {
	c.URL = getEnvOrDefault("HOMECHECK_URL", c.URL)
	c.Engine = getEnvOrDefault("HOMECHECK_ENGINE", c.Engine)
	c.OutputDir = getEnvOrDefault("HOMECHECK_OUTPUT_DIR", c.OutputDir)
	c.InitScript = getEnvOrDefault("HOMECHECK_INIT_SCRIPT", c.InitScript)

	if v, ok := os.LookupEnv("HOMECHECK_TIMEOUT"); ok {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%w: HOMECHECK_TIMEOUT: %v", ErrInvalid, err)
		}
		c.WaitTimeout = d
	}
	for key, dst := range map[string]*bool{
		"HOMECHECK_HEADLESS":         &c.Headless,
		"HOMECHECK_INSTALL_BROWSERS": &c.InstallBrowsers,
	} {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		*dst = b
	}
	return nil
}

// parseTimeout accepts Go durations ("5s") or bare milliseconds ("5000").
func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return MillisTimeout(ms)
	}
	return time.ParseDuration(v)
}

// MillisTimeout converts a millisecond count, rejecting values outside
// (0, MaxWaitTimeout] before the multiplication can overflow.
func MillisTimeout(ms int64) (time.Duration, error) {
	if ms <= 0 || ms > MaxWaitTimeout.Milliseconds() {
		return 0, fmt.Errorf("timeout %dms out of range (0, %s]", ms, MaxWaitTimeout)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Validate reports the first problem that would make a run meaningless.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file" {
		return fmt.Errorf("%w: url %q must be http, https or file", ErrInvalid, c.URL)
	}
	if strings.TrimSpace(c.BalanceSelector) == "" {
		return fmt.Errorf("%w: balance_selector is required", ErrInvalid)
	}
	if strings.TrimSpace(c.WidgetSelector) == "" {
		return fmt.Errorf("%w: widget_selector is required", ErrInvalid)
	}
	if c.WaitTimeout <= 0 || c.WaitTimeout > MaxWaitTimeout {
		return fmt.Errorf("%w: wait_timeout must be in (0, %s], got %s", ErrInvalid, MaxWaitTimeout, c.WaitTimeout)
	}
	if c.ErrorScreenshot == "" || c.SuccessScreenshot == "" {
		return fmt.Errorf("%w: screenshot paths are required", ErrInvalid)
	}
	switch c.Engine {
	case EnginePlaywright, EngineRod:
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, c.Engine)
	}
	return nil
}

// ErrorScreenshotPath resolves ErrorScreenshot against OutputDir.
func (c Config) ErrorScreenshotPath() string {
	return c.resolve(c.ErrorScreenshot)
}

// SuccessScreenshotPath resolves SuccessScreenshot against OutputDir.
func (c Config) SuccessScreenshotPath() string {
	return c.resolve(c.SuccessScreenshot)
}

func (c Config) resolve(name string) string {
	if filepath.IsAbs(name) || c.OutputDir == "" {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
