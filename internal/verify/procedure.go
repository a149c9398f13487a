// Package verify runs the home page check: load the page, wait for the
// balance, read it, look for the budget widget and take a screenshot.
package verify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"homecheck/internal/browser"
	"homecheck/internal/config"
)

// Console lines written by a check.
const (
	MsgLoaded        = "Home page loaded"
	MsgTimeout       = "Timeout waiting for home page"
	MsgWidgetVisible = "Budget widget visible"
)

// Procedure runs one check. It is not safe for concurrent use.
type Procedure struct {
	cfg      config.Config
	launcher browser.Launcher
	out      io.Writer
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a procedure. Status lines go to out; logger receives
// diagnostics and may be nil.
func New(cfg config.Config, launcher browser.Launcher, out io.Writer, logger *slog.Logger) *Procedure {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Procedure{cfg: cfg, launcher: launcher, out: out, logger: logger, now: time.Now}
}

// Run executes the check once. An element timeout is a graceful outcome and
// returns a nil error; every other failure returns a *StepError. The browser
// session is closed before Run returns on every path that opened one.
func (p *Procedure) Run(ctx context.Context) (rep Report, err error) {
	rep.StartedAt = p.now()
	defer func() {
		rep.FinishedAt = p.now()
		if err != nil {
			rep.Error = err.Error()
		}
	}()

	opts, err := p.launchOptions()
	if err != nil {
		return p.fail(&rep, StepLaunch, OutcomeLaunchFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return p.fail(&rep, StepLaunch, OutcomeCanceled, err)
	}
	p.logger.Debug("launching browser", "engine", p.cfg.Engine, "headless", opts.Headless)
	session, err := p.launcher.Launch(ctx, opts)
	if err != nil {
		p.printf("Browser launch failed: %v\n", err)
		return p.fail(&rep, StepLaunch, OutcomeLaunchFailed, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			p.logger.Warn("close browser session", "error", cerr)
		}
	}()

	if err := ctx.Err(); err != nil {
		return p.fail(&rep, StepNewPage, OutcomeCanceled, err)
	}
	page, err := session.NewPage(ctx)
	if err != nil {
		p.printf("Browser launch failed: %v\n", err)
		return p.fail(&rep, StepNewPage, OutcomeLaunchFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return p.fail(&rep, StepNavigate, OutcomeCanceled, err)
	}
	p.logger.Info("navigating", "url", p.cfg.URL)
	if err := page.Goto(ctx, p.cfg.URL); err != nil {
		p.printf("Navigation failed: %v\n", err)
		p.diagnose(ctx, page, &rep)
		return p.fail(&rep, StepNavigate, OutcomeNavigationFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return p.fail(&rep, StepWait, OutcomeCanceled, err)
	}
	if err := page.WaitFor(ctx, p.cfg.BalanceSelector, p.cfg.WaitTimeout); err != nil {
		// A wait cut short by the caller is neither a timeout nor worth a
		// screenshot.
		if ctx.Err() != nil {
			return p.fail(&rep, StepWait, OutcomeCanceled, err)
		}
		if browser.IsTimeout(err) {
			p.printf("%s\n", MsgTimeout)
			p.diagnose(ctx, page, &rep)
			p.logger.Warn("balance element did not appear", "selector", p.cfg.BalanceSelector, "timeout", p.cfg.WaitTimeout)
			rep.Outcome = OutcomeElementTimeout
			return rep, nil
		}
		p.printf("Error waiting for home page: %v\n", err)
		p.diagnose(ctx, page, &rep)
		return p.fail(&rep, StepWait, OutcomeWaitFailed, err)
	}
	p.printf("%s\n", MsgLoaded)

	balance, err := page.InnerText(ctx, p.cfg.BalanceSelector)
	if err != nil {
		return p.fail(&rep, StepReadText, OutcomeCaptureFailed, err)
	}
	rep.Balance = balance
	p.printf("Balance: %s\n", balance)

	visible, err := page.IsVisible(ctx, p.cfg.WidgetSelector)
	if err != nil {
		p.logger.Debug("widget visibility query failed", "selector", p.cfg.WidgetSelector, "error", err)
	}
	if visible {
		rep.WidgetVisible = true
		p.printf("%s\n", MsgWidgetVisible)
	}

	shot := p.cfg.SuccessScreenshotPath()
	if err := page.Screenshot(ctx, shot); err != nil {
		return p.fail(&rep, StepScreenshot, OutcomeCaptureFailed, err)
	}
	rep.Screenshot = shot
	rep.Outcome = OutcomePassed
	p.logger.Info("check passed", "balance", balance, "widget_visible", visible, "screenshot", shot)
	return rep, nil
}

func (p *Procedure) launchOptions() (browser.LaunchOptions, error) {
	opts := browser.LaunchOptions{
		Headless: p.cfg.Headless,
		Install:  p.cfg.InstallBrowsers,
	}
	if p.cfg.InitScript != "" {
		data, err := os.ReadFile(p.cfg.InitScript)
		if err != nil {
			return opts, fmt.Errorf("read init script: %w", err)
		}
		opts.InitScript = string(data)
	}
	return opts, nil
}

// diagnose captures the error screenshot. Failing to capture it does not
// change the outcome.
func (p *Procedure) diagnose(ctx context.Context, page browser.Page, rep *Report) {
	shot := p.cfg.ErrorScreenshotPath()
	if err := page.Screenshot(ctx, shot); err != nil {
		p.logger.Warn("diagnostic screenshot failed", "path", shot, "error", err)
		return
	}
	rep.Screenshot = shot
}

func (p *Procedure) fail(rep *Report, step Step, outcome Outcome, err error) (Report, error) {
	rep.Outcome = outcome
	p.logger.Error("check failed", "step", step, "outcome", outcome, "error", err)
	return *rep, &StepError{Step: step, Outcome: outcome, Err: err}
}

func (p *Procedure) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}
