package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// BrowserAutomation handles the page interactions a listing crawl needs:
// navigation, stepwise scrolling, geometry readings and the next-page
// control.
type BrowserAutomation struct {
	page   *rod.Page
	stable time.Duration
	logger *slog.Logger
}

// NewBrowserAutomation wraps a Rod page with automation helpers. stable is
// how long the DOM must stay unchanged before a navigation or click is
// considered done.
func NewBrowserAutomation(page *rod.Page, stable time.Duration, logger *slog.Logger) *BrowserAutomation {
	if stable <= 0 {
		stable = 300 * time.Millisecond
	}
	return &BrowserAutomation{
		page:   page,
		stable: stable,
		logger: logger.With("component", "browser_automation"),
	}
}

// --- Navigation ---

// Navigate loads url and waits for the page to settle. A page that never
// settles is logged and used as is.
func (ba *BrowserAutomation) Navigate(ctx context.Context, url string) error {
	p := ba.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	if err := p.WaitLoad(); err != nil {
		return err
	}
	if err := p.WaitStable(ba.stable); err != nil {
		ba.logger.Warn("page stability timeout, continuing", "url", url, "error", err)
	}
	return nil
}

// HTML returns the current document.
func (ba *BrowserAutomation) HTML(ctx context.Context) (string, error) {
	return ba.page.Context(ctx).HTML()
}

// --- Scrolling ---

// ScrollBy scrolls the window down by dy pixels.
func (ba *BrowserAutomation) ScrollBy(ctx context.Context, dy int) error {
	_, err := ba.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

// Extent reads the scroll offset, viewport height and document height.
func (ba *BrowserAutomation) Extent(ctx context.Context) (types.Extent, error) {
	res, err := ba.page.Context(ctx).Eval(`() => ({
		offset: Math.round(window.pageYOffset || document.documentElement.scrollTop || 0),
		viewport: window.innerHeight,
		height: Math.max(document.body.scrollHeight, document.documentElement.scrollHeight),
	})`)
	if err != nil {
		return types.Extent{}, err
	}
	return types.Extent{
		Offset:   res.Value.Get("offset").Int(),
		Viewport: res.Value.Get("viewport").Int(),
		Height:   res.Value.Get("height").Int(),
	}, nil
}

// --- Pagination ---

// ClickNext clicks the first element matching the XPath expression and
// waits for the page to settle. It reports false without error when the
// page has no such element.
func (ba *BrowserAutomation) ClickNext(ctx context.Context, xpath string) (bool, error) {
	p := ba.page.Context(ctx)
	els, err := p.ElementsX(xpath)
	if err != nil {
		return false, fmt.Errorf("find next control: %w", err)
	}
	if len(els) == 0 {
		return false, nil
	}

	next := els.First()
	if err := next.ScrollIntoView(); err != nil {
		return false, fmt.Errorf("scroll to next control: %w", err)
	}
	if err := next.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("click next control: %w", err)
	}
	if err := p.WaitStable(ba.stable); err != nil {
		ba.logger.Warn("page stability timeout after click, continuing", "error", err)
	}
	return true, nil
}
