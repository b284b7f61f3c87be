package metrics

import (
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"orderbot/internal/bus"
)

func TestCollector_SameKeySameMetric(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", `channel="cli"`)
	b := c.Counter("x_total", "x", `channel="cli"`)
	other := c.Counter("x_total", "x", `channel="telegram"`)

	a.Inc()
	b.Add(2)
	if a != b || a.Value() != 3 {
		t.Errorf("expected shared counter with value 3, got %d", a.Value())
	}
	if other.Value() != 0 {
		t.Errorf("label sets must be distinct")
	}
}

func TestCollector_RenderSortedText(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "b help", `channel="whatsapp"`).Add(2)
	c.Counter("b_total", "b help", `channel="cli"`).Inc()
	c.Gauge("a_gauge", "a help", "").Set(7)

	var sb strings.Builder
	if _, err := c.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()

	for _, want := range []string{
		"# TYPE a_gauge gauge\na_gauge 7\n",
		"# HELP b_total b help\n# TYPE b_total counter\nb_total{channel=\"cli\"} 1\nb_total{channel=\"whatsapp\"} 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "# TYPE b_total") != 1 {
		t.Error("type line repeated for one metric")
	}
}

func TestHistogram_Buckets(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat_seconds", "latency", "", []float64{1, 0.1, math.Inf(1)})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(3)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`lat_seconds_bucket{le="0.1"} 1`,
		`lat_seconds_bucket{le="1"} 2`,
		`lat_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if h.Count() != 3 {
		t.Errorf("count = %d", h.Count())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type %q", ct)
	}
}

func TestObserveEvents(t *testing.T) {
	eb := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ObserveEvents(eb)

	committed, pieces, failed := OrdersCommitted.Value(), OrderedPieces.Value(), OrderCommitFailures.Value()

	eb.Emit(bus.Event{Type: bus.EventOrderCommitted, Payload: map[string]any{"quantity": 18}})
	eb.Emit(bus.Event{Type: bus.EventOrderCommitFailed})

	if OrdersCommitted.Value()-committed != 1 || OrderedPieces.Value()-pieces != 18 {
		t.Errorf("committed +%d pieces +%d", OrdersCommitted.Value()-committed, OrderedPieces.Value()-pieces)
	}
	if OrderCommitFailures.Value()-failed != 1 {
		t.Errorf("failures +%d", OrderCommitFailures.Value()-failed)
	}
}
