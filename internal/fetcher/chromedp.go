package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

const extentJS = `({
	offset: Math.round(window.pageYOffset || document.documentElement.scrollTop || 0),
	viewport: window.innerHeight,
	height: Math.max(document.body.scrollHeight, document.documentElement.scrollHeight)
})`

// ChromedpSession drives a single Chrome tab through the DevTools protocol
// with chromedp.
type ChromedpSession struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	cfg         config.BrowserConfig
	logger      *slog.Logger
}

// NewChromedpSession starts Chrome, or attaches to browser.remote_url when
// set, and opens one tab.
func NewChromedpSession(cfg *config.Config, logger *slog.Logger) (*ChromedpSession, error) {
	s := &ChromedpSession{
		cfg:    cfg.Browser,
		logger: logger.With("component", "chromedp_session"),
	}

	var allocCtx context.Context
	if s.cfg.RemoteURL != "" {
		allocCtx, s.cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), s.cfg.RemoteURL)
	} else {
		options := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", s.cfg.Headless),
			chromedp.Flag("blink-settings", "imagesEnabled=false"),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.NoSandbox,
		)
		if s.cfg.BinPath != "" {
			options = append(options, chromedp.ExecPath(s.cfg.BinPath))
		}
		if s.cfg.UserAgent != "" {
			options = append(options, chromedp.UserAgent(s.cfg.UserAgent))
		}
		allocCtx, s.cancelAlloc = chromedp.NewExecAllocator(context.Background(), options...)
	}

	s.tabCtx, s.cancelTab = chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		s.logger.Debug(fmt.Sprintf(format, args...))
	}))

	// An empty run starts the browser and the tab.
	startup := []chromedp.Action{}
	if s.cfg.RemoteURL != "" && s.cfg.UserAgent != "" {
		startup = append(startup, emulation.SetUserAgentOverride(s.cfg.UserAgent))
	}
	if err := chromedp.Run(s.tabCtx, startup...); err != nil {
		s.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	s.logger.Info("chromedp session ready",
		"remote", s.cfg.RemoteURL != "",
		"headless", s.cfg.Headless,
	)
	return s, nil
}

// run executes actions in the tab. The caller's ctx bounds the run along
// with the render timeout.
func (s *ChromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	if s.cfg.RenderTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, s.cfg.RenderTimeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Render navigates the tab to url and returns the document once the body
// is ready.
func (s *ChromedpSession) Render(ctx context.Context, url string) (string, error) {
	start := time.Now()
	var html string
	err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", renderError(url, "navigate", err)
	}

	s.logger.Debug("render complete", "url", url, "size", len(html), "duration", time.Since(start))
	return html, nil
}

// ScrollStep scrolls down by browser.scroll_step pixels.
func (s *ChromedpSession) ScrollStep(ctx context.Context) error {
	js := fmt.Sprintf("window.scrollBy(0, %d)", s.cfg.ScrollStep)
	return renderError("", "scroll", s.run(ctx, chromedp.Evaluate(js, nil)))
}

// MeasureExtent reads the scroll geometry of the tab.
func (s *ChromedpSession) MeasureExtent(ctx context.Context) (types.Extent, error) {
	var ext types.Extent
	if err := s.run(ctx, chromedp.Evaluate(extentJS, &ext)); err != nil {
		return types.Extent{}, renderError("", "measure", err)
	}
	return ext, nil
}

// ClickNext follows browser.next_selector. The lookup does not wait: a
// page without the control is the last one.
func (s *ChromedpSession) ClickNext(ctx context.Context) (bool, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(s.cfg.NextSelector, &nodes, chromedp.AtLeast(0), chromedp.BySearch))
	if err != nil {
		return false, renderError("", "click", fmt.Errorf("find next control: %w", err))
	}
	if len(nodes) == 0 {
		return false, nil
	}

	err = s.run(ctx,
		chromedp.MouseClickNode(nodes[0]),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond),
	)
	if err != nil {
		return false, renderError("", "click", fmt.Errorf("click next control: %w", err))
	}
	return true, nil
}

// Document returns the current document of the tab.
func (s *ChromedpSession) Document(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", renderError("", "html", err)
	}
	return html, nil
}

// Close shuts the tab and, for a launched browser, Chrome itself.
func (s *ChromedpSession) Close() error {
	if s.cancelTab != nil {
		s.cancelTab()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
	return nil
}

// Type returns the backend identifier.
func (s *ChromedpSession) Type() string {
	return "chromedp"
}
