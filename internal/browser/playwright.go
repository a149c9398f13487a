package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Playwright launches chromium through playwright-go. Its calls do not take
// a context, so cancellation is only observed between calls.
type Playwright struct{}

type playwrightSession struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	initScript string
}

type playwrightPage struct {
	page playwright.Page
}

// Launch starts the driver and a chromium instance.
func (Playwright) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-dev-shm-usage"},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &playwrightSession{pw: pw, browser: browser, initScript: opts.InitScript}, nil
}

func (s *playwrightSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := s.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	if s.initScript != "" {
		if err := page.AddInitScript(playwright.Script{Content: playwright.String(s.initScript)}); err != nil {
			return nil, fmt.Errorf("add init script: %w", err)
		}
	}
	return &playwrightPage{page: page}, nil
}

func (s *playwrightSession) Close() error {
	return errors.Join(s.browser.Close(), s.pw.Stop())
}

func (p *playwrightPage) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Goto(url); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return timeoutError("goto", err)
		}
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return timeoutError("wait for "+selector, err)
		}
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) InnerText(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := p.page.Locator(selector).InnerText()
	if err != nil {
		return "", fmt.Errorf("inner text %s: %w", selector, err)
	}
	return text, nil
}

func (p *playwrightPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	visible, err := p.page.Locator(selector).IsVisible()
	if err != nil {
		return false, fmt.Errorf("visibility %s: %w", selector, err)
	}
	return visible, nil
}

func (p *playwrightPage) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if _, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	}); err != nil {
		return fmt.Errorf("screenshot %s: %w", path, err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	return nil
}
