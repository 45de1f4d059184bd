package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestGaugeVecWritePrometheusIncludesLabels(t *testing.T) {
	g := NewGaugeVec("test_gauge", "a test gauge.", []string{"queue", "status"})
	g.Set(42, "scrape", "pending")

	var buf bytes.Buffer
	if err := g.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `test_gauge{queue="scrape",status="pending"} 42.000000`) {
		t.Fatalf("expected labeled sample, got %q", out)
	}
	if !strings.Contains(out, "# TYPE test_gauge gauge") {
		t.Fatalf("expected TYPE line, got %q", out)
	}
}

func TestCounterVecAccumulates(t *testing.T) {
	c := NewCounterVec("test_counter", "a test counter.", []string{"match_type"})
	c.Inc("exact_id")
	c.Inc("exact_id")
	c.Add(3, "exact_id")

	var buf bytes.Buffer
	_ = c.WritePrometheus(&buf)
	if !strings.Contains(buf.String(), `test_counter{match_type="exact_id"} 5.000000`) {
		t.Fatalf("expected accumulated value 5, got %q", buf.String())
	}
}

func TestHistogramVecBucketsAreCumulative(t *testing.T) {
	h := NewHistogramVec("test_hist", "a test histogram.", []string{"registry"}, []float64{1, 5, 10})
	h.Observe(0.5, "ctgov")
	h.Observe(7, "ctgov")

	var buf bytes.Buffer
	_ = h.WritePrometheus(&buf)
	out := buf.String()
	if !strings.Contains(out, `test_hist_bucket{registry="ctgov",le="1"} 1`) {
		t.Fatalf("expected le=1 bucket to hold only the 0.5 observation, got %q", out)
	}
	if !strings.Contains(out, `test_hist_bucket{registry="ctgov",le="10"} 2`) {
		t.Fatalf("expected le=10 bucket to include both observations, got %q", out)
	}
	if !strings.Contains(out, `test_hist_count{registry="ctgov"} 2`) {
		t.Fatalf("expected count 2, got %q", out)
	}
	if !strings.Contains(out, `test_hist_sum{registry="ctgov"} 7.500000`) {
		t.Fatalf("expected sum 7.5, got %q", out)
	}
}

func TestEscapeLabelHandlesQuotesAndNewlines(t *testing.T) {
	got := escapeLabel("a \"quoted\"\nvalue")
	want := `a \"quoted\"\nvalue`
	if got != want {
		t.Fatalf("escapeLabel: got %q want %q", got, want)
	}
}

func TestWithLeAppendsToExistingLabelSet(t *testing.T) {
	got := withLe(`{queue="scrape"}`, "5")
	want := `{queue="scrape",le="5"}`
	if got != want {
		t.Fatalf("withLe: got %q want %q", got, want)
	}
}

func TestWithLeHandlesEmptyLabelSet(t *testing.T) {
	got := withLe("", "+Inf")
	want := `{le="+Inf"}`
	if got != want {
		t.Fatalf("withLe: got %q want %q", got, want)
	}
}

func TestMetricsNewRegistersAllFields(t *testing.T) {
	m := New()
	m.SetQueueDepth("scrape", "pending", 12)
	m.SetJobFailureRate("scrape", 0.1)
	m.SetScrapingProgress("ctgov", 0.5)
	m.SetRateLimitUsage("ctgov", 0.3)
	m.SetTableRows("clinical_trials", 1000)
	m.IncDedupMatch("exact_id")
	m.IncAlert("warning", "medium")

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"registry_job_queue_depth",
		"registry_job_failure_rate",
		"registry_scraping_job_progress_ratio",
		"registry_api_rate_limit_usage",
		"registry_db_table_rows",
		"registry_dedup_matches_total",
		"registry_alerts_emitted_total",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}
