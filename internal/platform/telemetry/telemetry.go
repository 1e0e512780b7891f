// Package telemetry records HTTP and submission metrics and serves them in
// the Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rtclinic/followup/internal/platform/notify"
)

// Default histogram bucket boundaries for request durations in seconds.
var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram is a thread-safe histogram. Bucket counts are non-cumulative in
// storage; cumulative counts are computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
	// Above every boundary: only the +Inf bucket, which is the total count.
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

// LabelsKey joins label values into a map key.
func LabelsKey(values ...string) string {
	return strings.Join(values, "|")
}

// Metrics holds every series the server exports.
type Metrics struct {
	mu          sync.RWMutex
	durations   map[string]*histogram // method|route|status
	submissions map[string]int64      // event type

	activeRequests int64
	tableRows      int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations:   make(map[string]*histogram),
		submissions: make(map[string]int64),
	}
}

func (m *Metrics) observeRequest(method, route string, status int, seconds float64) {
	key := LabelsKey(method, route, strconv.Itoa(status))

	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.durations[key]; !ok {
			h = newHistogram(defaultDurationBuckets)
			m.durations[key] = h
		}
		m.mu.Unlock()
	}
	h.Observe(seconds)
}

// RecordEvent counts a published event and tracks the table size it reports.
func (m *Metrics) RecordEvent(e notify.Event) {
	m.mu.Lock()
	m.submissions[e.Type]++
	m.mu.Unlock()
	atomic.StoreInt64(&m.tableRows, int64(e.Row))
}

// Submissions returns how many events of eventType have been recorded.
func (m *Metrics) Submissions(eventType string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.submissions[eventType]
}

// Middleware records request duration by method, route and status, and the
// number of in-flight requests.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}

			atomic.AddInt64(&m.activeRequests, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.activeRequests, -1)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observeRequest(c.Request().Method, route, status, time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the metrics in Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) write(b *strings.Builder) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	durations := make([]*histogram, len(keys))
	for i, k := range keys {
		durations[i] = m.durations[k]
	}
	types := make([]string, 0, len(m.submissions))
	for t := range m.submissions {
		types = append(types, t)
	}
	sort.Strings(types)
	counts := make([]int64, len(types))
	for i, t := range types {
		counts[i] = m.submissions[t]
	}
	m.mu.RUnlock()

	const durName = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", durName)
	fmt.Fprintf(b, "# TYPE %s histogram\n", durName)
	for i, key := range keys {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, durName, labels, durations[i])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.activeRequests))

	b.WriteString("# HELP followup_events_total Published follow-up events by type.\n")
	b.WriteString("# TYPE followup_events_total counter\n")
	for i, t := range types {
		fmt.Fprintf(b, "followup_events_total{type=%q} %d\n", t, counts[i])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP followup_table_rows Rows in the follow-up table after the last submission.\n")
	b.WriteString("# TYPE followup_table_rows gauge\n")
	fmt.Fprintf(b, "followup_table_rows %d\n", atomic.LoadInt64(&m.tableRows))
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

// countingNotifier records every successfully published event.
type countingNotifier struct {
	notify.Notifier
	metrics *Metrics
}

// WrapNotifier returns a notifier that publishes through n and records each
// delivered event in m.
func (m *Metrics) WrapNotifier(n notify.Notifier) notify.Notifier {
	return &countingNotifier{Notifier: n, metrics: m}
}

func (n *countingNotifier) Publish(ctx context.Context, e notify.Event) error {
	if err := n.Notifier.Publish(ctx, e); err != nil {
		return err
	}
	n.metrics.RecordEvent(e)
	return nil
}
