// Package browser hides the automation engine behind the few calls a page
// check needs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is wrapped by engine errors caused by a wait running out.
	ErrTimeout = errors.New("browser wait timed out")
	// ErrUnknownEngine is returned by New for unsupported engine names.
	ErrUnknownEngine = errors.New("unknown browser engine")
)

// LaunchOptions configure a browser session.
type LaunchOptions struct {
	Headless bool
	// Install fetches the engine's browser build before launching.
	Install bool
	// InitScript is evaluated on every new document before page scripts.
	InitScript string
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is a running browser. Close must be called on every exit path.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	Goto(ctx context.Context, url string) error
	// WaitFor blocks until selector is attached and visible. A wait that
	// runs past timeout returns an error wrapping ErrTimeout.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	InnerText(ctx context.Context, selector string) (string, error)
	// IsVisible does not wait; a missing element is reported as not visible.
	IsVisible(ctx context.Context, selector string) (bool, error)
	Screenshot(ctx context.Context, path string) error
}

// IsTimeout reports whether err came from a wait running out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// New returns the launcher for the named engine.
func New(engine string) (Launcher, error) {
	switch engine {
	case "playwright", "":
		return Playwright{}, nil
	case "rod":
		return Rod{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

func timeoutError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
}
