package observability

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveProbe(true, time.Second)
	m.IncRender("ok")
	m.IncPage()
	m.IncItem("inserted")
	m.IncRetry("probe")
	m.IncWindow("found")
	m.RunStarted()("done")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCountersAndExposition(t *testing.T) {
	m := NewMetrics(testLogger)
	m.IncItem("inserted")
	m.IncItem("inserted")
	m.IncItem("skipped")
	m.ObserveProbe(false, 10*time.Millisecond)
	finish := m.RunStarted()

	if body := scrape(t, m); !strings.Contains(body, "wbparser_active_runs 1") {
		t.Error("active run not reported")
	}
	finish("done")

	body := scrape(t, m)
	for _, want := range []string{
		`wbparser_items_total{outcome="inserted"} 2`,
		`wbparser_items_total{outcome="skipped"} 1`,
		`wbparser_probes_total{result="absent"} 1`,
		`wbparser_runs_total{state="done"} 1`,
		"wbparser_active_runs 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
