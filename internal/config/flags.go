package config

import (
	"flag"
	"time"
)

// Flags binds the command-line overrides shared by the commands.
type Flags struct {
	fs *flag.FlagSet

	path          string
	url           string
	timeout       time.Duration
	engine        string
	headless      bool
	outputDir     string
	initScript    string
	install       bool
	failOnTimeout bool
}

// RegisterFlags defines the config flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.path, "config", "", "YAML config file")
	fs.StringVar(&f.url, "url", d.URL, "Target URL")
	fs.DurationVar(&f.timeout, "timeout", d.WaitTimeout, "Wait for the balance element")
	fs.StringVar(&f.engine, "engine", d.Engine, "Browser engine: playwright or rod")
	fs.BoolVar(&f.headless, "headless", d.Headless, "Headless mode")
	fs.StringVar(&f.outputDir, "out", "", "Screenshot directory (default: working directory)")
	fs.StringVar(&f.initScript, "init-script", "", "JS file evaluated before page scripts")
	fs.BoolVar(&f.install, "install", false, "Install the playwright browser first")
	fs.BoolVar(&f.failOnTimeout, "fail-on-timeout", false, "Exit non-zero when the balance never appears")
	return f
}

// Load resolves the config file and environment, then applies only the
// flags given explicitly on the command line. Call after fs.Parse.
func (f *Flags) Load() (Config, error) {
	cfg, err := Load(f.path)
	if err != nil {
		return Config{}, err
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "url":
			cfg.URL = f.url
		case "timeout":
			cfg.WaitTimeout = f.timeout
		case "engine":
			cfg.Engine = f.engine
		case "headless":
			cfg.Headless = f.headless
		case "out":
			cfg.OutputDir = f.outputDir
		case "init-script":
			cfg.InitScript = f.initScript
		case "install":
			cfg.InstallBrowsers = f.install
		case "fail-on-timeout":
			cfg.FailOnTimeout = f.failOnTimeout
		}
	})
	return cfg, cfg.Validate()
}
