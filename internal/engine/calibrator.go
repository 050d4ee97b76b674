package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// OutcomeKind tags a calibration outcome.
type OutcomeKind int

const (
	OutcomeFailed OutcomeKind = iota
	OutcomeFound
	OutcomeExhausted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFound:
		return "found"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "failed"
	}
}

// Outcome is the result of one calibration.
type Outcome struct {
	Kind   OutcomeKind
	Window catalog.Window
	Count  int

	// OverCap marks a Found window whose verified count still exceeds the
	// band maximum because no narrower window was available.
	OverCap bool

	// Probes is the number of probes spent.
	Probes int
}

// Band is the target item count range of a window.
type Band struct {
	Min int
	Max int
}

func (b Band) contains(n int) bool { return n >= b.Min && n <= b.Max }

// Calibrator searches for the largest window starting at a given lower
// bound whose item count falls inside the band.
type Calibrator struct {
	prober      Prober
	band        Band
	minStep     catalog.Price
	maxProbes   int
	verifyExact bool
	logger      *slog.Logger
}

// CalibratorOption configures a Calibrator.
type CalibratorOption func(*Calibrator)

// WithMaxProbes caps the number of probes of one calibration.
func WithMaxProbes(n int) CalibratorOption {
	return func(c *Calibrator) { c.maxProbes = n }
}

// WithVerifyExact re-probes an in-band hit before accepting it.
func WithVerifyExact(v bool) CalibratorOption {
	return func(c *Calibrator) { c.verifyExact = v }
}

// NewCalibrator validates the band and step. An inverted band is a caller
// bug and reported as types.ErrInvalidBand.
func NewCalibrator(prober Prober, band Band, minStep catalog.Price, logger *slog.Logger, opts ...CalibratorOption) (*Calibrator, error) {
	if band.Min > band.Max {
		return nil, fmt.Errorf("band [%d, %d]: %w", band.Min, band.Max, types.ErrInvalidBand)
	}
	if minStep <= 0 {
		return nil, fmt.Errorf("min step must be positive, got %s", minStep)
	}
	c := &Calibrator{
		prober:    prober,
		band:      band,
		minStep:   minStep,
		maxProbes: 64,
		logger:    logger.With("component", "calibrator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Full span, final check and exact re-probe each need one probe,
	// leaving at least one for the search.
	floor := 3
	if c.verifyExact {
		floor = 4
	}
	if c.maxProbes < floor {
		c.maxProbes = floor
	}
	return c, nil
}

// Calibrate picks the window [lower, upper] for the next drain.
//
// The full span is probed first; a span at or below the band maximum is
// taken whole as Exhausted rather than searched for an in-band bound, since
// the remaining catalog fits one drain either way. Otherwise the upper bound is binary searched at
// minStep granularity. When no probe lands inside the band the smallest
// over-shooting bound is rounded down to the step, verified with one more
// probe and, if it still exceeds the band, the largest under-shooting
// bound is used instead.
func (c *Calibrator) Calibrate(ctx context.Context, lower, outerUpper catalog.Price) (Outcome, error) {
	if lower > outerUpper {
		return Outcome{}, fmt.Errorf("lower %s above outer upper %s", lower, outerUpper)
	}

	probes := 0
	probe := func(upper catalog.Price) ProbeResult {
		probes++
		return c.prober.Probe(ctx, catalog.Window{Lower: lower, Upper: upper})
	}
	failed := func(reason string) (Outcome, error) {
		c.logger.Warn("calibration failed", "lower", lower, "reason", reason, "probes", probes)
		return Outcome{Kind: OutcomeFailed, Probes: probes}, nil
	}

	total := probe(outerUpper)
	if !total.OK {
		return failed("full span probe unresolved")
	}
	full := catalog.Window{Lower: lower, Upper: outerUpper}
	if lower == outerUpper || total.Count < c.band.Min {
		return Outcome{Kind: OutcomeExhausted, Window: full, Count: total.Count, Probes: probes}, nil
	}
	if total.Count <= c.band.Max {
		// The rest of the catalog fits one window.
		return Outcome{Kind: OutcomeExhausted, Window: full, Count: total.Count, Probes: probes}, nil
	}

	var (
		left, right = lower, outerUpper
		over        catalog.Price = -1
		under       catalog.Price = -1
		underCount  int
	)

	// One probe stays reserved for the final verification, two when every
	// hit is verified.
	reserve := 1
	if c.verifyExact {
		reserve = 2
	}
	for right-left >= c.minStep && probes < c.maxProbes-reserve {
		mid := left + (right-left)/2
		if mid < lower+c.minStep {
			mid = lower + c.minStep
		}

		res := probe(mid)
		if !res.OK {
			return failed(fmt.Sprintf("probe at %s unresolved", mid))
		}

		switch {
		case c.band.contains(res.Count):
			if !c.verifyExact {
				return c.found(lower, mid, res.Count, probes), nil
			}
			again := probe(mid)
			if !again.OK {
				return failed(fmt.Sprintf("verification at %s unresolved", mid))
			}
			if again.Count <= c.band.Max {
				return c.found(lower, mid, again.Count, probes), nil
			}
			c.logger.Debug("in-band probe did not verify", "upper", mid, "first", res.Count, "second", again.Count)
			over = mid
			right = mid - c.minStep
		case res.Count > c.band.Max:
			over = mid
			right = mid - c.minStep
		default:
			under, underCount = mid, res.Count
			left = mid + c.minStep
		}
	}

	if over < 0 {
		return failed("no over-shooting bound found")
	}

	final := over.FloorTo(c.minStep)
	if final <= lower {
		final = lower + c.minStep
	}
	verified := probe(final)
	if !verified.OK {
		return failed(fmt.Sprintf("verification at %s unresolved", final))
	}
	if verified.Count <= c.band.Max {
		return c.found(lower, final, verified.Count, probes), nil
	}
	if under > lower {
		c.logger.Debug("rounded bound still over cap, using under-shoot",
			"rounded", final, "count", verified.Count, "under", under)
		return c.found(lower, under, underCount, probes), nil
	}

	c.logger.Warn("no window under the band maximum at step granularity",
		"lower", lower, "upper", final, "count", verified.Count, "max", c.band.Max)
	out := c.found(lower, final, verified.Count, probes)
	out.OverCap = true
	return out, nil
}

func (c *Calibrator) found(lower, upper catalog.Price, count, probes int) Outcome {
	return Outcome{
		Kind:   OutcomeFound,
		Window: catalog.Window{Lower: lower, Upper: upper},
		Count:  count,
		Probes: probes,
	}
}
