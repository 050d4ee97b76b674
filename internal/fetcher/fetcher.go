package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// Session is one browser tab driven by a crawl. Calls are issued one at a
// time.
type Session interface {
	// Render navigates to url and returns the rendered document.
	Render(ctx context.Context, url string) (string, error)

	// ScrollStep scrolls down by the configured step.
	ScrollStep(ctx context.Context) error

	// MeasureExtent reads the current scroll geometry.
	MeasureExtent(ctx context.Context) (types.Extent, error)

	// ClickNext follows the next-page control; false when there is none.
	ClickNext(ctx context.Context) (bool, error)

	// Document returns the current document without navigating.
	Document(ctx context.Context) (string, error)

	// Close releases the tab and, if it was launched by the session, the
	// browser.
	Close() error

	// Type returns the backend identifier.
	Type() string
}

// Open starts a session for the configured browser backend.
func Open(cfg *config.Config, logger *slog.Logger) (Session, error) {
	switch cfg.Browser.Backend {
	case "rod":
		return NewRodSession(cfg, logger)
	case "chromedp":
		return NewChromedpSession(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser backend %q", cfg.Browser.Backend)
	}
}

// renderError wraps a browser failure. Everything but a cancelled caller
// is worth another attempt.
func renderError(url, op string, err error) error {
	if err == nil {
		return nil
	}
	return &types.RenderError{
		URL:       url,
		Op:        op,
		Err:       err,
		Retryable: !errors.Is(err, context.Canceled),
	}
}
