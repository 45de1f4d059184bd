// Package monitoring holds the lightweight Prometheus-exposition
// metric primitives and the periodic health checks described in §4.7:
// queue depth, scraping-job heartbeat staleness, stale job-lock
// reaping, and rate-limit budget usage.
package monitoring

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
)

// Metrics is the process-wide registry of counters/gauges/histograms
// this pipeline exposes. Unlike the teacher's always-on instance, it
// is constructed explicitly by the orchestrator/worker entrypoints
// rather than gated behind a package-level singleton, since this
// module has no HTTP API surface pulling it in implicitly.
type Metrics struct {
	queueDepth       *GaugeVec
	jobFailureRate   *GaugeVec
	scrapingProgress *GaugeVec
	rateLimitUsage   *GaugeVec
	dbTableSize      *GaugeVec
	scrapeDuration   *HistogramVec
	dedupMatches     *CounterVec
	alertsEmitted    *CounterVec
}

func New() *Metrics {
	return &Metrics{
		queueDepth:       NewGaugeVec("registry_job_queue_depth", "Job queue depth by queue/status.", []string{"queue", "status"}),
		jobFailureRate:   NewGaugeVec("registry_job_failure_rate", "Fraction of recent jobs in a queue that failed.", []string{"queue"}),
		scrapingProgress: NewGaugeVec("registry_scraping_job_progress_ratio", "Scraping job processed/total ratio.", []string{"registry"}),
		rateLimitUsage:   NewGaugeVec("registry_api_rate_limit_usage", "Fraction of rate-limit budget consumed by registry.", []string{"registry"}),
		dbTableSize:      NewGaugeVec("registry_db_table_rows", "Approximate row count by table.", []string{"table"}),
		scrapeDuration: NewHistogramVec(
			"registry_scrape_duration_seconds",
			"Scraping job wall-clock duration in seconds.",
			[]string{"registry", "status"},
			[]float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		),
		dedupMatches:  NewCounterVec("registry_dedup_matches_total", "Duplicate edges created by match type.", []string{"match_type"}),
		alertsEmitted: NewCounterVec("registry_alerts_emitted_total", "Alerts emitted by type/severity.", []string{"type", "severity"}),
	}
}

func (m *Metrics) SetQueueDepth(queue, status string, depth int64) {
	m.queueDepth.Set(float64(depth), queue, status)
}

func (m *Metrics) SetJobFailureRate(queue string, rate float64) {
	m.jobFailureRate.Set(rate, queue)
}

func (m *Metrics) SetScrapingProgress(registry string, ratio float64) {
	m.scrapingProgress.Set(ratio, registry)
}

func (m *Metrics) SetRateLimitUsage(registry string, usage float64) {
	m.rateLimitUsage.Set(usage, registry)
}

func (m *Metrics) SetTableRows(table string, rows int64) {
	m.dbTableSize.Set(float64(rows), table)
}

func (m *Metrics) ObserveScrapeDuration(registry, status string, dur time.Duration) {
	m.scrapeDuration.Observe(dur.Seconds(), registry, status)
}

func (m *Metrics) IncDedupMatch(matchType string) {
	m.dedupMatches.Inc(matchType)
}

func (m *Metrics) IncAlert(alertType, severity string) {
	m.alertsEmitted.Inc(alertType, severity)
}

// StartServer exposes the metrics in Prometheus text format at
// GET /metrics on addr from a background goroutine; the caller stops
// it by closing the returned server.
func (m *Metrics) StartServer(log *logger.Logger, addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.writeHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err, "addr", addr)
		}
	}()
	return srv
}

func (m *Metrics) writeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.queueDepth, m.jobFailureRate, m.scrapingProgress, m.rateLimitUsage,
		m.dbTableSize, m.scrapeDuration, m.dedupMatches, m.alertsEmitted,
	}
	for _, w2 := range writers {
		if err := w2.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// ---- metric primitives, adapted from the observability package this
// module's design is grounded on ----

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter { return &Counter{name: name, help: help} }

func (c *Counter) Inc()         { c.mu.Lock(); c.val++; c.mu.Unlock() }
func (c *Counter) Add(v float64) { c.mu.Lock(); c.val += v; c.mu.Unlock() }

func (c *Counter) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) { c.Add(1, values...) }

func (c *CounterVec) Add(v float64, values ...string) {
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl] += v
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Gauge struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewGauge(name, help string) *Gauge { return &Gauge{name: name, help: help} }

func (g *Gauge) Set(v float64) { g.mu.Lock(); g.val = v; g.mu.Unlock() }

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", g.name, g.val)
	return err
}

type GaugeVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	lbl := labelString(g.labelNames, values)
	g.mu.Lock()
	g.values[lbl] = v
	g.mu.Unlock()
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for k, v := range g.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", g.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{buckets: h.buckets, counts: make([]uint64, len(h.buckets)+1)}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	if strings.HasSuffix(labels, "}") {
		return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
	}
	return "{le=\"" + le + "\"}"
}
