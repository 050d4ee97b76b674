package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
	"github.com/Aleksandr071218/wb-parser/internal/observability"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// ScrollSettings controls how a listing page is loaded to the end.
type ScrollSettings struct {
	Interval        time.Duration // pause after each scroll step
	SettleDelay     time.Duration // pause before the confirming height reading
	BottomTolerance int
	MaxScrolls      int
}

// Walker drains the listing pages of a price window.
type Walker struct {
	renderer  Renderer
	extractor Extractor
	baseURL   string
	domain    string
	render    Policy
	scroll    ScrollSettings
	maxPages  int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewWalker creates a walker over the catalog at baseURL.
func NewWalker(renderer Renderer, extractor Extractor, baseURL string, render Policy, scroll ScrollSettings, maxPages int, metrics *observability.Metrics, logger *slog.Logger) *Walker {
	if scroll.MaxScrolls < 1 {
		scroll.MaxScrolls = 1
	}
	return &Walker{
		renderer:  renderer,
		extractor: extractor,
		baseURL:   baseURL,
		domain:    catalog.BaseDomain(baseURL),
		render:    render,
		scroll:    scroll,
		maxPages:  maxPages,
		metrics:   metrics,
		logger:    logger.With("component", "walker"),
	}
}

// Walk is one pass over a window. It is created by Open and consumed by
// Records exactly once.
type Walk struct {
	w        *Walker
	window   catalog.Window
	category string
	first    string
	consumed bool
	pages    int
	err      error
}

// Open renders the first page of window and loads it fully. A failure
// here means the window could not be read at all.
func (w *Walker) Open(ctx context.Context, window catalog.Window, category string) (*Walk, error) {
	target, err := catalog.WindowURL(w.baseURL, window)
	if err != nil {
		return nil, err
	}

	_, err = Retry(ctx, w.render, func(ctx context.Context) (string, error) {
		doc, err := w.renderer.Render(ctx, target)
		if err != nil {
			w.metrics.IncRender("error")
		} else {
			w.metrics.IncRender("ok")
		}
		return doc, err
	})
	if err != nil {
		return nil, fmt.Errorf("render first page of %s: %w", window, err)
	}

	doc, err := w.loadPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("load first page of %s: %w", window, err)
	}

	w.logger.Debug("window opened", "window", window, "url", target)
	return &Walk{w: w, window: window, category: category, first: doc}, nil
}

// loadPage scrolls the current page until its height stops growing and
// returns the resulting document.
func (w *Walker) loadPage(ctx context.Context) (string, error) {
	w.scrollToEnd(ctx)
	return Retry(ctx, w.render, func(ctx context.Context) (string, error) {
		return w.renderer.Document(ctx)
	})
}

// scrollToEnd steps down the page until the viewport reaches the bottom
// and two height readings taken SettleDelay apart agree. Scroll errors
// only end the scrolling; whatever has loaded is still extracted.
func (w *Walker) scrollToEnd(ctx context.Context) {
	for i := 0; i < w.scroll.MaxScrolls; i++ {
		if err := w.renderer.ScrollStep(ctx); err != nil {
			w.logger.Warn("scroll failed", "error", err)
			return
		}
		if err := sleepCtx(ctx, w.scroll.Interval); err != nil {
			return
		}
		ext, err := w.renderer.MeasureExtent(ctx)
		if err != nil {
			w.logger.Warn("measure failed", "error", err)
			return
		}
		if !ext.AtBottom(w.scroll.BottomTolerance) {
			continue
		}
		if err := sleepCtx(ctx, w.scroll.SettleDelay); err != nil {
			return
		}
		again, err := w.renderer.MeasureExtent(ctx)
		if err != nil {
			w.logger.Warn("measure failed", "error", err)
			return
		}
		if again.Height == ext.Height {
			return
		}
	}
	w.logger.Warn("page kept growing, scroll limit reached", "max_scrolls", w.scroll.MaxScrolls)
}

// Records yields the items of every page of the window in order. The
// sequence is lazy and can only be consumed once; later calls yield
// nothing. A failure after the first page ends the sequence early and is
// reported by Err.
func (wk *Walk) Records(ctx context.Context) iter.Seq[types.ItemRecord] {
	return func(yield func(types.ItemRecord) bool) {
		if wk.consumed {
			return
		}
		wk.consumed = true

		w := wk.w
		doc := wk.first
		wk.first = ""
		for {
			wk.pages++
			w.metrics.IncPage()
			records := w.extractor.Extract(doc, w.domain, wk.category)
			w.logger.Debug("page extracted", "window", wk.window, "page", wk.pages, "records", len(records))
			for _, rec := range records {
				if !yield(rec) {
					return
				}
			}

			if w.maxPages > 0 && wk.pages >= w.maxPages {
				w.logger.Info("page limit reached", "window", wk.window, "pages", wk.pages)
				return
			}

			more, err := Retry(ctx, w.render, w.renderer.ClickNext)
			if err != nil {
				wk.stop(err)
				return
			}
			if !more {
				return
			}

			doc, err = w.loadPage(ctx)
			if err != nil {
				wk.stop(err)
				return
			}
		}
	}
}

func (wk *Walk) stop(err error) {
	wk.err = &types.PageError{Page: wk.pages, Err: err}
	wk.w.logger.Warn("window ended early", "window", wk.window, "page", wk.pages, "error", err)
}

// Pages returns the number of pages extracted so far.
func (wk *Walk) Pages() int { return wk.pages }

// Err returns the reason the walk ended before the last page, if any.
func (wk *Walk) Err() error { return wk.err }
