package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
	"github.com/Aleksandr071218/wb-parser/internal/observability"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// ProbeResult is the count a listing reports for one window. OK false
// means the page never exposed a count, which is distinct from zero.
type ProbeResult struct {
	Count int
	OK    bool
}

// Absent is the ProbeResult of a probe that did not resolve.
var Absent = ProbeResult{}

// Prober answers "how many items does this window hold".
type Prober interface {
	Probe(ctx context.Context, w catalog.Window) ProbeResult
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, w catalog.Window) ProbeResult

func (f ProberFunc) Probe(ctx context.Context, w catalog.Window) ProbeResult { return f(ctx, w) }

// CountProbe renders the listing for a window and reads its item count.
type CountProbe struct {
	renderer Renderer
	counter  Counter
	baseURL  string
	policy   Policy
	wait     time.Duration
	poll     time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewCountProbe creates a probe over baseURL. wait bounds how long a
// rendered page is polled for its count before the attempt is given up.
func NewCountProbe(renderer Renderer, counter Counter, baseURL string, policy Policy, wait time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CountProbe {
	return &CountProbe{
		renderer: renderer,
		counter:  counter,
		baseURL:  baseURL,
		policy:   policy,
		wait:     wait,
		poll:     500 * time.Millisecond,
		metrics:  metrics,
		logger:   logger.With("component", "count_probe"),
	}
}

// Probe never fails: render errors and pages without a count are retried
// under the probe policy and then reported as Absent.
func (p *CountProbe) Probe(ctx context.Context, w catalog.Window) ProbeResult {
	start := time.Now()
	target, err := catalog.WindowURL(p.baseURL, w)
	if err != nil {
		p.logger.Error("cannot build window url", "window", w, "error", err)
		p.metrics.ObserveProbe(false, time.Since(start))
		return Absent
	}

	n, err := Retry(ctx, p.policy, func(ctx context.Context) (int, error) {
		return p.probeOnce(ctx, target)
	})
	if err != nil {
		p.logger.Warn("probe unresolved", "window", w, "error", err)
		p.metrics.ObserveProbe(false, time.Since(start))
		return Absent
	}

	p.logger.Debug("probe", "window", w, "count", n)
	p.metrics.ObserveProbe(true, time.Since(start))
	return ProbeResult{Count: n, OK: true}
}

func (p *CountProbe) probeOnce(ctx context.Context, target string) (int, error) {
	doc, err := p.renderer.Render(ctx, target)
	if err != nil {
		p.metrics.IncRender("error")
		return 0, err
	}
	p.metrics.IncRender("ok")

	deadline := time.Now().Add(p.wait)
	for {
		if n, ok := p.counter.Count(doc); ok {
			return n, nil
		}
		if !time.Now().Before(deadline) {
			return 0, fmt.Errorf("%s: %w", target, types.ErrProbeUnavailable)
		}
		if err := sleepCtx(ctx, p.poll); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return 0, fmt.Errorf("%s: %w", target, types.ErrProbeUnavailable)
			}
			return 0, err
		}
		doc, err = p.renderer.Document(ctx)
		if err != nil {
			return 0, err
		}
	}
}
