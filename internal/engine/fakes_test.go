package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// testConfig returns a config with every delay zeroed.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Browser.CountWait = 0
	cfg.Browser.ScrollInterval = 0
	cfg.Browser.SettleDelay = 0
	cfg.Browser.MaxScrolls = 5
	cfg.Calibration.MinStep = "1"
	zero := config.RetryPolicy{MaxAttempts: 3}
	cfg.Retry.Probe = zero
	cfg.Retry.Render = zero
	cfg.Retry.Window = config.RetryPolicy{MaxAttempts: 2}
	cfg.Retry.Storage = zero
	return cfg
}

func testPolicy(name string, attempts int) Policy {
	return Policy{Name: name, MaxAttempts: attempts}
}

// fakeCatalog is an in-memory listing: product i has price prices[i] and
// article "<i+1>".
type fakeCatalog struct {
	prices   []catalog.Price
	pageSize int
}

func newEvenCatalog(n int, step catalog.Price, pageSize int) *fakeCatalog {
	c := &fakeCatalog{pageSize: pageSize}
	for i := 1; i <= n; i++ {
		c.prices = append(c.prices, catalog.Price(i)*step)
	}
	return c
}

func (c *fakeCatalog) inWindow(w catalog.Window) []int {
	var ids []int
	for i, p := range c.prices {
		if p >= w.Lower && p <= w.Upper {
			ids = append(ids, i+1)
		}
	}
	return ids
}

func (c *fakeCatalog) count(w catalog.Window) int { return len(c.inWindow(w)) }

// fakeRenderer renders fakeCatalog pages as HTML. failClickAt makes the
// click leaving that page of a window fail; failNextClickAt does the same
// failNextClicks times (at least once) for whatever window comes first.
// failRender makes every Render fail. heights, when set, is the sequence
// of page heights MeasureExtent reports; the last one repeats.
type fakeRenderer struct {
	mu              sync.Mutex
	cat             *fakeCatalog
	window          catalog.Window
	page            int
	renders         []string
	clicks          int
	scrolls         int
	failClickAt     map[catalog.Window]int
	failNextClickAt int
	failNextClicks  int
	failRender      bool
	heights         []int
	measures        int
	failScroll      error
	failMeasure     error
}

func newFakeRenderer(cat *fakeCatalog) *fakeRenderer {
	return &fakeRenderer{cat: cat, failClickAt: map[catalog.Window]int{}}
}

func (r *fakeRenderer) Render(_ context.Context, url string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, url)
	if r.failRender {
		return "", &types.RenderError{URL: url, Op: "navigate", Err: fmt.Errorf("net::ERR_TIMED_OUT"), Retryable: true}
	}
	w, ok := catalog.PriceRange(url)
	if !ok {
		return "", fmt.Errorf("no price filter in %s", url)
	}
	r.window = w
	r.page = 1
	return r.doc(), nil
}

func (r *fakeRenderer) setFailRender(v bool) {
	r.mu.Lock()
	r.failRender = v
	r.mu.Unlock()
}

func (r *fakeRenderer) ScrollStep(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrolls++
	return r.failScroll
}

// MeasureExtent keeps the viewport pinned to the bottom of the page.
func (r *fakeRenderer) MeasureExtent(context.Context) (types.Extent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMeasure != nil {
		return types.Extent{}, r.failMeasure
	}
	height := 1800
	if len(r.heights) > 0 {
		i := min(r.measures, len(r.heights)-1)
		height = r.heights[i]
	}
	r.measures++
	return types.Extent{Offset: height - 800, Viewport: 800, Height: height}, nil
}

func (r *fakeRenderer) ClickNext(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks++
	if at, ok := r.failClickAt[r.window]; ok && at == r.page {
		return false, &types.RenderError{Op: "click", Err: fmt.Errorf("detached"), Retryable: true}
	}
	if r.failNextClickAt > 0 && r.failNextClickAt == r.page {
		r.failNextClicks--
		if r.failNextClicks <= 0 {
			r.failNextClickAt = 0
		}
		return false, &types.RenderError{Op: "click", Err: fmt.Errorf("detached"), Retryable: true}
	}
	ids := r.cat.inWindow(r.window)
	if r.page*r.cat.pageSize >= len(ids) {
		return false, nil
	}
	r.page++
	return true, nil
}

func (r *fakeRenderer) Document(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc(), nil
}

func (r *fakeRenderer) doc() string {
	ids := r.cat.inWindow(r.window)
	var b strings.Builder
	fmt.Fprintf(&b, "<html><body><h1>%d товаров</h1><div>", len(ids))
	from := (r.page - 1) * r.cat.pageSize
	to := from + r.cat.pageSize
	if to > len(ids) {
		to = len(ids)
	}
	for _, id := range ids[from:to] {
		fmt.Fprintf(&b, `<a href="/catalog/%d/detail.aspx">p</a>`, id)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

// fakeStore is a keyed in-memory ProductStore with failure injection.
type fakeStore struct {
	mu          sync.Mutex
	rows        map[string]types.ProductRow
	inserts     int
	exists      int
	failExists  error
	failInsert  error
	insertFails int // fail this many inserts, then succeed
	uniqueIndex bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]types.ProductRow{}}
}

func (s *fakeStore) ExistsByKey(_ context.Context, article string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists++
	if s.failExists != nil {
		return false, s.failExists
	}
	_, ok := s.rows[article]
	return ok, nil
}

func (s *fakeStore) InsertRow(_ context.Context, row types.ProductRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertFails > 0 {
		s.insertFails--
		return &types.StorageError{Backend: "fake", Op: "insert", Err: fmt.Errorf("connection reset")}
	}
	if s.failInsert != nil {
		return s.failInsert
	}
	if _, ok := s.rows[row.Article]; ok && s.uniqueIndex {
		return &types.StorageError{Backend: "fake", Op: "insert", Err: types.ErrDuplicate}
	}
	s.rows[row.Article] = row
	return nil
}

func (s *fakeStore) articles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rows))
	for a := range s.rows {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// countingProber wraps a count function and records every probe.
type countingProber struct {
	f      func(w catalog.Window) ProbeResult
	probes []catalog.Window
}

func (p *countingProber) Probe(_ context.Context, w catalog.Window) ProbeResult {
	p.probes = append(p.probes, w)
	return p.f(w)
}
