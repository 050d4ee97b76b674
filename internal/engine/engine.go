package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/observability"
	"github.com/Aleksandr071218/wb-parser/internal/parser"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// State is the orchestrator's position in a run.
type State int32

const (
	StateStart State = iota
	StateCalibrating
	StateDraining
	StateAdvancing
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateCalibrating:
		return "calibrating"
	case StateDraining:
		return "draining"
	case StateAdvancing:
		return "advancing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Renderer is the browser session a run drives. Calls are issued one at a
// time; implementations need not be safe for concurrent use.
type Renderer interface {
	// Render navigates to url and returns the rendered document.
	Render(ctx context.Context, url string) (string, error)
	// ScrollStep scrolls down by one step to trigger lazy loading.
	ScrollStep(ctx context.Context) error
	// MeasureExtent reports the current scroll geometry.
	MeasureExtent(ctx context.Context) (types.Extent, error)
	// ClickNext follows the next-page control; false if there is none.
	ClickNext(ctx context.Context) (bool, error)
	// Document returns the current document without navigating.
	Document(ctx context.Context) (string, error)
}

// Counter reads the reported result count from a document.
type Counter interface {
	Count(doc string) (int, bool)
}

// Extractor turns a listing document into item records.
type Extractor interface {
	Extract(doc, baseDomain, category string) []types.ItemRecord
}

// ProductStore is the durable keyed store of product rows.
type ProductStore interface {
	ExistsByKey(ctx context.Context, article string) (bool, error)
	InsertRow(ctx context.Context, row types.ProductRow) error
}

// Target is what a run crawls.
type Target struct {
	URL string
	// Start overrides the first lower bound; nil uses the URL filter or
	// the catalog minimum.
	Start *catalog.Price
	// Upper overrides the outer upper bound; nil uses the URL filter or
	// the configured default.
	Upper *catalog.Price
	// Band overrides the configured target count range.
	Band *Band
	// MaxItems stops the run once this many items were inserted; 0 means
	// no limit.
	MaxItems int
}

// Summary reports the progress of a run. It is filled in on every exit
// path, including failures.
type Summary struct {
	State          State          `json:"-"`
	StateName      string         `json:"state"`
	Category       string         `json:"category"`
	Inserted       int64          `json:"inserted"`
	Existing       int64          `json:"existing"`
	Skipped        int64          `json:"skipped"`
	StoreErrors    int64          `json:"store_errors"`
	Pages          int64          `json:"pages"`
	Windows        int64          `json:"windows"`
	PartialWindows int64          `json:"partial_windows"`
	BlockIndex     int            `json:"block_index"`
	CurrentLower   catalog.Price  `json:"current_lower"`
	OuterUpper     catalog.Price  `json:"outer_upper"`
	LastWindow     catalog.Window `json:"last_window"`
	Elapsed        time.Duration  `json:"elapsed"`
	Error          string         `json:"error,omitempty"`
}

// Stats tracks live counters of a run.
type Stats struct {
	Inserted    atomic.Int64
	Existing    atomic.Int64
	Skipped     atomic.Int64
	StoreErrors atomic.Int64
	Pages       atomic.Int64
	Windows     atomic.Int64
	Partial     atomic.Int64
	StartTime   time.Time
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"inserted":        s.Inserted.Load(),
		"existing":        s.Existing.Load(),
		"skipped":         s.Skipped.Load(),
		"store_errors":    s.StoreErrors.Load(),
		"pages":           s.Pages.Load(),
		"windows":         s.Windows.Load(),
		"partial_windows": s.Partial.Load(),
		"elapsed":         time.Since(s.StartTime).String(),
	}
}

// Engine runs one crawl: calibrate a window, drain it, advance, repeat.
type Engine struct {
	cfg       *config.Config
	renderer  Renderer
	store     ProductStore
	counter   Counter
	extractor Extractor
	metrics   *observability.Metrics
	onWindow  func(block int, o Outcome)
	ckpt      *CheckpointManager
	logger    *slog.Logger

	state atomic.Int32
	stats *Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCounter replaces the default count extractor.
func WithCounter(c Counter) Option {
	return func(e *Engine) { e.counter = c }
}

// WithExtractor replaces the default product extractor.
func WithExtractor(x Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithWindowHook registers fn to be called with every accepted window
// before it is drained.
func WithWindowHook(fn func(block int, o Outcome)) Option {
	return func(e *Engine) { e.onWindow = fn }
}

// WithCheckpoints saves progress after every window and resumes a URL
// from its last checkpoint when the target has no explicit start.
func WithCheckpoints(cm *CheckpointManager) Option {
	return func(e *Engine) { e.ckpt = cm }
}

// New creates an engine over a rendering session and a store. Both are
// owned by the caller.
func New(cfg *config.Config, renderer Renderer, store ProductStore, logger *slog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		renderer:  renderer,
		store:     store,
		extractor: parser.NewProductExtractor(),
		logger:    logger.With("component", "engine"),
		stats:     &Stats{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		c, err := parser.NewCountExtractor(cfg.Browser.CountXPaths, cfg.Browser.CountPattern, logger)
		if err != nil {
			return nil, err
		}
		e.counter = c
	}
	return e, nil
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Stats returns the live counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.logger.Debug("state", "state", s)
}

func (e *Engine) policy(name string, c config.RetryPolicy) Policy {
	p := PolicyFromConfig(name, c)
	p.OnRetry = func(name string, attempt int, delay time.Duration, err error) {
		e.metrics.IncRetry(name)
		e.logger.Warn("retrying", "op", name, "attempt", attempt, "delay", delay, "error", err)
	}
	return p
}

// Run crawls target until the catalog is exhausted, calibration fails or
// ctx is cancelled. ctx is only checked between states; a render or
// insert in flight always completes. The summary is valid on every path.
func (e *Engine) Run(ctx context.Context, target Target) (*Summary, error) {
	e.stats = &Stats{StartTime: time.Now()}
	finish := e.metrics.RunStarted()

	sum := &Summary{}
	err := e.run(ctx, target, sum)

	e.fillSummary(sum)
	if err != nil {
		sum.Error = err.Error()
	}
	finish(sum.StateName)

	e.logger.Info("run finished",
		"state", sum.StateName,
		"inserted", sum.Inserted,
		"existing", sum.Existing,
		"skipped", sum.Skipped,
		"store_errors", sum.StoreErrors,
		"windows", sum.Windows,
		"block", sum.BlockIndex,
		"current_lower", sum.CurrentLower,
		"elapsed", sum.Elapsed,
	)
	return sum, err
}

func (e *Engine) fillSummary(sum *Summary) {
	sum.State = e.State()
	sum.StateName = sum.State.String()
	sum.Inserted = e.stats.Inserted.Load()
	sum.Existing = e.stats.Existing.Load()
	sum.Skipped = e.stats.Skipped.Load()
	sum.StoreErrors = e.stats.StoreErrors.Load()
	sum.Pages = e.stats.Pages.Load()
	sum.Windows = e.stats.Windows.Load()
	sum.PartialWindows = e.stats.Partial.Load()
	sum.Elapsed = time.Since(e.stats.StartTime)
}

func (e *Engine) run(ctx context.Context, target Target, sum *Summary) error {
	e.setState(StateStart)

	baseURL, err := catalog.PrepareURL(target.URL)
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("prepare url: %w", err)
	}
	lower, outerUpper, err := e.bounds(baseURL, target)
	if err != nil {
		e.setState(StateFailed)
		return err
	}
	minStep, err := e.cfg.Calibration.MinStepPrice()
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("min step: %w", err)
	}

	category := catalog.CategoryFromURL(baseURL)
	sum.Category = category
	sum.OuterUpper = outerUpper

	// In-flight calls are not interrupted by a stop request.
	work := context.WithoutCancel(ctx)

	probe := NewCountProbe(e.renderer, e.counter, baseURL,
		e.policy("probe", e.cfg.Retry.Probe), e.cfg.Browser.CountWait, e.metrics, e.logger)
	band := Band{Min: e.cfg.Calibration.BandMin, Max: e.cfg.Calibration.BandMax}
	if target.Band != nil {
		band = *target.Band
	}
	calibrator, err := NewCalibrator(probe, band, minStep, e.logger,
		WithMaxProbes(e.cfg.Calibration.MaxProbes),
		WithVerifyExact(e.cfg.Calibration.VerifyExact),
	)
	if err != nil {
		e.setState(StateFailed)
		return err
	}
	walker := NewWalker(e.renderer, e.extractor, baseURL,
		e.policy("render", e.cfg.Retry.Render),
		ScrollSettings{
			Interval:        e.cfg.Browser.ScrollInterval,
			SettleDelay:     e.cfg.Browser.SettleDelay,
			BottomTolerance: e.cfg.Browser.BottomTolerance,
			MaxScrolls:      e.cfg.Browser.MaxScrolls,
		},
		e.cfg.Browser.MaxPages, e.metrics, e.logger)
	sink, err := NewDedupSink(e.store, e.cfg.Storage.SeenCacheSize,
		e.policy("storage", e.cfg.Retry.Storage), e.metrics, e.logger)
	if err != nil {
		e.setState(StateFailed)
		return err
	}
	windowPolicy := e.policy("window", e.cfg.Retry.Window)
	windowPolicy.Retryable = func(error) bool { return true }

	maxItems := target.MaxItems
	if maxItems == 0 {
		maxItems = e.cfg.Calibration.MaxItems
	}

	e.logger.Info("run started",
		"url", baseURL,
		"category", category,
		"lower", lower,
		"outer_upper", outerUpper,
		"band_min", band.Min,
		"band_max", band.Max,
		"min_step", minStep,
	)

	currentLower := lower
	block := 1
	if e.ckpt != nil && target.Start == nil {
		cp, ok, err := e.ckpt.Load(baseURL)
		if err != nil {
			e.logger.Warn("checkpoint unreadable, starting over", "error", err)
		} else if ok && cp.CurrentLower >= lower && cp.CurrentLower <= outerUpper {
			e.logger.Info("resuming from checkpoint", "lower", cp.CurrentLower, "block", cp.Block, "saved", cp.Timestamp)
			currentLower = cp.CurrentLower
			block = cp.Block
		}
	}

	for {
		sum.BlockIndex = block
		sum.CurrentLower = currentLower

		if err := ctx.Err(); err != nil {
			e.setState(StateCancelled)
			return fmt.Errorf("%w: %w", types.ErrRunStopped, err)
		}

		e.setState(StateCalibrating)
		e.logger.Info("calibrating", "block", block, "lower", currentLower)
		outcome, err := calibrator.Calibrate(work, currentLower, outerUpper)
		if err != nil {
			e.setState(StateFailed)
			return err
		}
		e.metrics.IncWindow(outcome.Kind.String())
		if outcome.Kind == OutcomeFailed {
			e.setState(StateFailed)
			return fmt.Errorf("block %d at %s: %w", block, currentLower, types.ErrCalibrationFailed)
		}
		if outcome.Kind == OutcomeFound && outcome.Window.Upper < currentLower+minStep {
			e.setState(StateFailed)
			return fmt.Errorf("block %d window %s: %w", block, outcome.Window, types.ErrNoProgress)
		}
		if outcome.OverCap {
			e.logger.Warn("window exceeds band maximum, listing may be truncated",
				"window", outcome.Window, "count", outcome.Count, "max", band.Max)
		}

		if err := ctx.Err(); err != nil {
			e.setState(StateCancelled)
			return fmt.Errorf("%w: %w", types.ErrRunStopped, err)
		}

		e.stats.Windows.Add(1)
		sum.LastWindow = outcome.Window
		if e.onWindow != nil {
			e.onWindow(block, outcome)
		}

		e.setState(StateDraining)
		e.logger.Info("draining", "block", block, "window", outcome.Window,
			"kind", outcome.Kind, "count", outcome.Count, "probes", outcome.Probes)
		walk, err := Retry(work, windowPolicy, func(ctx context.Context) (*Walk, error) {
			return walker.Open(ctx, outcome.Window, category)
		})
		if err != nil {
			e.setState(StateFailed)
			return fmt.Errorf("block %d window %s: %w: %w", block, outcome.Window, types.ErrWindowFailed, err)
		}
		e.drain(work, walk, sink)

		e.setState(StateAdvancing)
		currentLower = outcome.Window.Upper
		sum.CurrentLower = currentLower
		if outcome.Kind == OutcomeExhausted {
			e.cleanCheckpoint(baseURL)
			e.setState(StateDone)
			return nil
		}
		e.saveCheckpoint(Checkpoint{
			URL:          baseURL,
			Category:     category,
			CurrentLower: currentLower,
			OuterUpper:   outerUpper,
			Block:        block + 1,
			Inserted:     e.stats.Inserted.Load(),
		})
		if maxItems > 0 && e.stats.Inserted.Load() >= int64(maxItems) {
			e.logger.Info("item limit reached", "max_items", maxItems)
			e.setState(StateDone)
			return nil
		}
		block++
	}
}

func (e *Engine) saveCheckpoint(cp Checkpoint) {
	if e.ckpt == nil {
		return
	}
	if err := e.ckpt.Save(cp); err != nil {
		e.logger.Warn("checkpoint not saved", "error", err)
	}
}

func (e *Engine) cleanCheckpoint(url string) {
	if e.ckpt == nil {
		return
	}
	if err := e.ckpt.Clean(url); err != nil {
		e.logger.Warn("checkpoint not removed", "error", err)
	}
}

func (e *Engine) drain(ctx context.Context, walk *Walk, sink *DedupSink) {
	for rec := range walk.Records(ctx) {
		res := sink.InsertIfNew(ctx, rec)
		switch res.Status {
		case StatusInserted:
			e.stats.Inserted.Add(1)
		case StatusAlreadyExists:
			e.stats.Existing.Add(1)
		case StatusSkipped:
			e.stats.Skipped.Add(1)
		case StatusError:
			e.stats.StoreErrors.Add(1)
		}
	}
	e.stats.Pages.Add(int64(walk.Pages()))
	if err := walk.Err(); err != nil {
		e.stats.Partial.Add(1)
		var pe *types.PageError
		if errors.As(err, &pe) {
			e.logger.Warn("partial window, continuing with next", "pages", pe.Page, "error", pe.Err)
		}
	}
}

// bounds resolves the first lower bound and the outer upper bound of a
// run: explicit target values, then configuration, then the URL filter,
// then catalog defaults.
func (e *Engine) bounds(baseURL string, target Target) (lower, upper catalog.Price, err error) {
	fromURL, hasURL := catalog.PriceRange(target.URL)

	switch {
	case target.Start != nil:
		lower = *target.Start
	default:
		start, ok, err := e.cfg.Calibration.StartPriceValue()
		if err != nil {
			return 0, 0, err
		}
		switch {
		case ok:
			lower = start
		case hasURL:
			lower = fromURL.Lower
		default:
			lower = catalog.DefaultLower
		}
	}

	switch {
	case target.Upper != nil:
		upper = *target.Upper
	case hasURL:
		upper = fromURL.Upper
	default:
		upper, err = e.cfg.Calibration.DefaultUpperPrice()
		if err != nil {
			return 0, 0, err
		}
	}

	if _, err := catalog.NewWindow(lower, upper); err != nil {
		return 0, 0, fmt.Errorf("price bounds for %s: %w", baseURL, err)
	}
	return lower, upper, nil
}
