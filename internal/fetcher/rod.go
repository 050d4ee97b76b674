package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Aleksandr071218/wb-parser/internal/automation"
	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// RodSession drives a single Chromium tab through Rod.
type RodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	auto     *automation.BrowserAutomation
	cfg      config.BrowserConfig
	logger   *slog.Logger
}

// NewRodSession launches a local browser, or connects to
// browser.remote_url when set, and opens one tab.
func NewRodSession(cfg *config.Config, logger *slog.Logger) (*RodSession, error) {
	s := &RodSession{
		cfg:    cfg.Browser,
		logger: logger.With("component", "rod_session"),
	}

	controlURL, err := s.controlURL()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		s.cleanupLauncher()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	s.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if s.cfg.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.cfg.UserAgent})
		if err != nil {
			s.logger.Warn("failed to set user agent", "error", err)
		}
	}
	s.page = page
	s.auto = automation.NewBrowserAutomation(page, 300*time.Millisecond, logger)

	s.logger.Info("rod session ready",
		"remote", s.cfg.RemoteURL != "",
		"headless", s.cfg.Headless,
	)
	return s, nil
}

func (s *RodSession) controlURL() (string, error) {
	if s.cfg.RemoteURL != "" {
		return launcher.ResolveURL(s.cfg.RemoteURL)
	}

	l := launcher.New().
		Headless(s.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("blink-settings", "imagesEnabled=false")
	if s.cfg.BinPath != "" {
		l = l.Bin(s.cfg.BinPath)
	}
	s.launcher = l
	return l.Launch()
}

func (s *RodSession) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RenderTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.RenderTimeout)
}

// Render navigates the tab to url and returns the settled document.
func (s *RodSession) Render(ctx context.Context, url string) (string, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.auto.Navigate(ctx, url); err != nil {
		return "", renderError(url, "navigate", err)
	}
	html, err := s.auto.HTML(ctx)
	if err != nil {
		return "", renderError(url, "html", err)
	}

	s.logger.Debug("render complete", "url", url, "size", len(html), "duration", time.Since(start))
	return html, nil
}

// ScrollStep scrolls down by browser.scroll_step pixels.
func (s *RodSession) ScrollStep(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return renderError("", "scroll", s.auto.ScrollBy(ctx, s.cfg.ScrollStep))
}

// MeasureExtent reads the scroll geometry of the tab.
func (s *RodSession) MeasureExtent(ctx context.Context) (types.Extent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ext, err := s.auto.Extent(ctx)
	if err != nil {
		return types.Extent{}, renderError("", "measure", err)
	}
	return ext, nil
}

// ClickNext follows browser.next_selector.
func (s *RodSession) ClickNext(ctx context.Context) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.auto.ClickNext(ctx, s.cfg.NextSelector)
	if err != nil {
		return false, renderError("", "click", err)
	}
	return ok, nil
}

// Document returns the current document of the tab.
func (s *RodSession) Document(ctx context.Context) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	html, err := s.auto.HTML(ctx)
	if err != nil {
		return "", renderError("", "html", err)
	}
	return html, nil
}

// Close shuts the tab and the browser down.
func (s *RodSession) Close() error {
	var err error
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil && s.cfg.RemoteURL == "" {
		err = s.browser.Close()
	}
	s.cleanupLauncher()
	return err
}

func (s *RodSession) cleanupLauncher() {
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}

// Type returns the backend identifier.
func (s *RodSession) Type() string {
	return "rod"
}
