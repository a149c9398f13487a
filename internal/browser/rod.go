package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Rod drives a local chrome over CDP with go-rod. CHROME_BIN selects the
// binary when set.
type Rod struct{}

type rodSession struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	initScript string
}

type rodPage struct {
	page *rod.Page
}

// Launch starts chrome and connects to it. opts.Install is a no-op: the
// launcher downloads a browser on first use when none is found.
func (Rod) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	l := launcher.New().
		Context(ctx).
		Leakless(true).
		Headless(opts.Headless).
		Set("disable-dev-shm-usage")
	if chromeBin := os.Getenv("CHROME_BIN"); chromeBin != "" {
		l = l.Bin(chromeBin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &rodSession{launcher: l, browser: browser, initScript: opts.InitScript}, nil
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	if s.initScript != "" {
		if _, err := page.EvalOnNewDocument(s.initScript); err != nil {
			return nil, fmt.Errorf("add init script: %w", err)
		}
	}
	return &rodPage{page: page}, nil
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Cleanup()
	return err
}

func (p *rodPage) Goto(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("goto %s: wait load: %w", url, err)
	}
	return nil
}

func (p *rodPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := p.page.Context(waitCtx).Element(selector)
	if err == nil {
		err = el.WaitVisible()
	}
	return waitError(ctx, selector, err)
}

// waitError classifies an error from a wait bounded by a deadline derived
// from ctx. Only that deadline counts as a timeout; a cancelled or expired
// parent is not.
func waitError(ctx context.Context, selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return timeoutError("wait for "+selector, err)
	}
	return fmt.Errorf("wait for %s: %w", selector, err)
}

func (p *rodPage) InnerText(ctx context.Context, selector string) (string, error) {
	page := p.page.Context(ctx)
	el, err := page.Element(selector)
	if err != nil {
		return "", fmt.Errorf("inner text %s: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("inner text %s: %w", selector, err)
	}
	return text, nil
}

func (p *rodPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("visibility %s: %w", selector, err)
	}
	if !has {
		return false, nil
	}
	visible, err := el.Visible()
	if err != nil {
		return false, fmt.Errorf("visibility %s: %w", selector, err)
	}
	return visible, nil
}

func (p *rodPage) Screenshot(ctx context.Context, path string) error {
	data, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("screenshot %s: %w", path, err)
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("screenshot %s: %w", path, err)
	}
	return nil
}
