// Package metrics is a small Prometheus-text collector for the order bot:
// message traffic, order outcomes and handling latency.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewMetricsCollector()

type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram keeps cumulative bucket counts.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func metricKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter for name and labels, creating it on first use.
// labels is the rendered label set, e.g. `channel="telegram"`.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := metricKey(name, labels)
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := metricKey(name, labels)
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := metricKey(name, labels)
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// Handler serves the exposition text.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

type sample struct {
	name, help, kind, labels string
	value                    string
}

// WriteTo renders every metric, sorted by name then labels.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var samples []sample
	c.counters.Range(func(_, v any) bool {
		ctr := v.(*Counter)
		samples = append(samples, sample{ctr.name, ctr.help, "counter", ctr.labels, fmt.Sprint(ctr.Value())})
		return true
	})
	c.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		samples = append(samples, sample{g.name, g.help, "gauge", g.labels, fmt.Sprint(g.Value())})
		return true
	})
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].name != samples[j].name {
			return samples[i].name < samples[j].name
		}
		return samples[i].labels < samples[j].labels
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP orderbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE orderbot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "orderbot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	last := ""
	for _, s := range samples {
		if s.name != last {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, s.kind)
			last = s.name
		}
		if s.labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %s\n", s.name, s.labels, s.value)
		} else {
			fmt.Fprintf(&sb, "%s %s\n", s.name, s.value)
		}
	}

	var hists []*Histogram
	c.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool {
		return metricKey(hists[i].name, hists[i].labels) < metricKey(hists[j].name, hists[j].labels)
	})
	for _, h := range hists {
		writeHistogram(&sb, h)
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func writeHistogram(sb *strings.Builder, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	prefix := h.name + "_bucket{"
	if h.labels != "" {
		prefix += h.labels + ","
	}
	hasInf := false
	for _, b := range h.buckets {
		le := fmt.Sprintf("%g", b.le)
		if math.IsInf(b.le, 1) {
			le = "+Inf"
			hasInf = true
		}
		fmt.Fprintf(sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
	}
	if !hasInf {
		fmt.Fprintf(sb, "%sle=\"+Inf\"} %d\n", prefix, h.count)
	}
	suffix := ""
	if h.labels != "" {
		suffix = "{" + h.labels + "}"
	}
	fmt.Fprintf(sb, "%s_count%s %d\n", h.name, suffix, h.count)
	fmt.Fprintf(sb, "%s_sum%s %f\n", h.name, suffix, h.sum)
}

var (
	OrdersCommitted     = Collector.Counter("orderbot_orders_committed_total", "Orders written", "")
	OrderCommitFailures = Collector.Counter("orderbot_order_commit_failures_total", "Order commits rolled back", "")
	OrderedPieces       = Collector.Counter("orderbot_ordered_pieces_total", "Pieces across committed orders", "")
	CustomersRegistered = Collector.Counter("orderbot_customers_registered_total", "Customers registered through chat", "")
	SessionsClosed      = Collector.Counter("orderbot_sessions_closed_total", "Conversations ended with 0", "")
	MessagesThrottled   = Collector.Counter("orderbot_messages_throttled_total", "Messages refused by the per-contact rate limit", "")
	ActiveSessions      = Collector.Gauge("orderbot_sessions", "Conversations held in memory", "")
	PendingMessages     = Collector.Gauge("orderbot_pending_messages", "Messages queued behind a busy contact", "")

	HandleLatency = Collector.Histogram("orderbot_handle_seconds", "Time to answer one message", "",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5})
)

// MessagesTotal is the per-channel inbound counter.
func MessagesTotal(channel string) *Counter {
	return Collector.Counter("orderbot_messages_total", "Inbound messages handled", `channel="`+channel+`"`)
}
