package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors of the crawler on a dedicated
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Probes        *prometheus.CounterVec
	ProbeDuration prometheus.Histogram
	Renders       *prometheus.CounterVec
	Pages         prometheus.Counter
	Items         *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	Windows       *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge

	logger *slog.Logger
}

// NewMetrics constructs and registers all collectors.
func NewMetrics(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbparser_probes_total",
			Help: "Count probes by result (ok, absent).",
		}, []string{"result"}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wbparser_probe_duration_seconds",
			Help:    "Latency of a count probe including retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		Renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbparser_renders_total",
			Help: "Page renders by outcome.",
		}, []string{"outcome"}),
		Pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wbparser_pages_total",
			Help: "Listing pages walked.",
		}),
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbparser_items_total",
			Help: "Extracted items by dedup outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbparser_retries_total",
			Help: "Retry attempts by operation.",
		}, []string{"op"}),
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbparser_windows_total",
			Help: "Calibrated price windows by outcome.",
		}, []string{"outcome"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbparser_runs_total",
			Help: "Finished runs by terminal state.",
		}, []string{"state"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wbparser_active_runs",
			Help: "Runs currently executing.",
		}),
		logger: logger.With("component", "metrics"),
	}

	registry.MustRegister(m.Probes, m.ProbeDuration, m.Renders, m.Pages, m.Items,
		m.Retries, m.Windows, m.Runs, m.ActiveRuns)
	return m
}

func (m *Metrics) ObserveProbe(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "absent"
	}
	m.Probes.WithLabelValues(result).Inc()
	m.ProbeDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRender(outcome string) {
	if m == nil {
		return
	}
	m.Renders.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.Pages.Inc()
}

func (m *Metrics) IncItem(outcome string) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRetry(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) IncWindow(outcome string) {
	if m == nil {
		return
	}
	m.Windows.WithLabelValues(outcome).Inc()
}

// RunStarted bumps the active gauge; the returned func records the
// terminal state.
func (m *Metrics) RunStarted() func(state string) {
	if m == nil {
		return func(string) {}
	}
	m.ActiveRuns.Inc()
	return func(state string) {
		m.ActiveRuns.Dec()
		m.Runs.WithLabelValues(state).Inc()
	}
}

// Handler returns the exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}
