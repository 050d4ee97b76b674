package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/engine"
	"github.com/Aleksandr071218/wb-parser/internal/fetcher"
	"github.com/Aleksandr071218/wb-parser/internal/jobs"
	"github.com/Aleksandr071218/wb-parser/internal/observability"
	"github.com/Aleksandr071218/wb-parser/internal/storage"
)

// SessionFactory opens a rendering session for one run.
type SessionFactory func(cfg *config.Config, logger *slog.Logger) (fetcher.Session, error)

// StoreFactory opens the product store for one run.
type StoreFactory func(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error)

// Runner executes crawls. Every run gets its own browser session and
// store handle, released when the run returns.
type Runner struct {
	cfg        *config.Config
	metrics    *observability.Metrics
	openSess   SessionFactory
	openStore  StoreFactory
	engineOpts []engine.Option
	logger     *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSessionFactory replaces fetcher.Open.
func WithSessionFactory(f SessionFactory) RunnerOption {
	return func(r *Runner) { r.openSess = f }
}

// WithStoreFactory replaces storage.Open.
func WithStoreFactory(f StoreFactory) RunnerOption {
	return func(r *Runner) { r.openStore = f }
}

// WithEngineOptions appends engine options to every run.
func WithEngineOptions(opts ...engine.Option) RunnerOption {
	return func(r *Runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		metrics:   metrics,
		openSess:  fetcher.Open,
		openStore: storage.Open,
		logger:    logger.With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run crawls target. The summary is nil only when the session or the
// store could not be opened.
func (r *Runner) Run(ctx context.Context, target engine.Target) (*engine.Summary, error) {
	session, err := r.openSess(r.cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("session close failed", "error", err)
		}
	}()

	store, err := r.openStore(ctx, r.cfg.Storage, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Warn("store close failed", "error", err)
		}
	}()

	log := r.logger.With("url", target.URL, "browser", session.Type(), "store", store.Name())
	opts := []engine.Option{
		engine.WithMetrics(r.metrics),
		engine.WithWindowHook(func(block int, o engine.Outcome) {
			log.Info("window calibrated",
				"block", block,
				"window", o.Window,
				"count", o.Count,
				"over_cap", o.OverCap,
			)
		}),
	}
	if r.cfg.Checkpoint.Enabled {
		opts = append(opts, engine.WithCheckpoints(engine.NewCheckpointManager(r.cfg.Checkpoint.Dir)))
	}
	opts = append(opts, r.engineOpts...)

	eng, err := engine.New(r.cfg, session, store, r.logger, opts...)
	if err != nil {
		return nil, err
	}
	log.Info("run starting")
	return eng.Run(ctx, target)
}

// RunJob adapts Run to the job manager: step is the window band minimum,
// max_products the band maximum.
func (r *Runner) RunJob(ctx context.Context, req jobs.Request) (*engine.Summary, error) {
	return r.Run(ctx, engine.Target{
		URL:  req.URL,
		Band: &engine.Band{Min: req.Step, Max: req.MaxProducts},
	})
}
