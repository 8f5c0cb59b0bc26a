package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecordOptimization(t *testing.T) {
	c := NewCollector()

	c.RecordOptimization(Optimization{
		TokensBefore: 1000,
		TokensAfter:  600,
		TokensSaved:  400,
		CacheHit:     false,
		Route:        "heuristic",
	}, "/v1/optimize")
	c.RecordOptimization(Optimization{
		TokensBefore: 500,
		TokensAfter:  500,
		TokensSaved:  0,
		CacheHit:     true,
		Route:        "heuristic+original",
	}, "/v1/optimize")

	s := c.Stats()
	if s.TokensBefore != 1500 || s.TokensAfter != 1100 || s.TokensSaved != 400 {
		t.Errorf("token totals = %d/%d/%d", s.TokensBefore, s.TokensAfter, s.TokensSaved)
	}
	if s.CacheHits != 1 || s.CacheMisses != 1 {
		t.Errorf("cache = %d hits %d misses", s.CacheHits, s.CacheMisses)
	}
	if s.CacheHitRate != 50 {
		t.Errorf("hit rate = %g, want 50", s.CacheHitRate)
	}
}

func TestRecordOptimizationCostSaved(t *testing.T) {
	c := NewCollector()

	// gpt-4 input is $30 per million tokens.
	c.RecordOptimization(Optimization{TokensBefore: 1_200_000, TokensAfter: 200_000, TokensSaved: 1_000_000, Model: "gpt-4"}, "/v1/optimize")
	if s := c.Stats(); s.CostSavedUSD != 30.00 {
		t.Errorf("cost saved = %g, want 30", s.CostSavedUSD)
	}

	// Unknown models add nothing rather than guessing a price.
	c.RecordOptimization(Optimization{TokensBefore: 100, TokensAfter: 50, TokensSaved: 50, Model: "home-grown-llm"}, "/v1/optimize")
	if s := c.Stats(); s.CostSavedUSD != 30.00 {
		t.Errorf("cost saved after unknown model = %g, want 30", s.CostSavedUSD)
	}

	rec := httptest.NewRecorder()
	PrometheusHandler(c)(rec, httptest.NewRequest("GET", "/v1/metrics", nil))
	if body := rec.Body.String(); !strings.Contains(body, "token_optimizer_cost_saved_usd_total 30") {
		t.Errorf("exposition missing cost series\n%s", body)
	}
}

func TestNegativeSavingsNotCounted(t *testing.T) {
	c := NewCollector()
	c.RecordOptimization(Optimization{TokensBefore: 100, TokensAfter: 120, TokensSaved: -20}, "/v1/optimize")

	if s := c.Stats(); s.TokensSaved != 0 {
		t.Errorf("negative savings should not decrease the total, got %d", s.TokensSaved)
	}
}

func TestActiveRequests(t *testing.T) {
	c := NewCollector()
	c.IncrementActive()
	c.IncrementActive()
	c.DecrementActive()

	if s := c.Stats(); s.ActiveRequests != 1 {
		t.Errorf("active = %d, want 1", s.ActiveRequests)
	}
}

func TestPrometheusExposition(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/v1/optimize", "200")
	c.RecordRequest("/v1/optimize", "401")
	c.RecordOptimization(Optimization{TokensBefore: 800, TokensAfter: 300, TokensSaved: 500, Route: "heuristic+semantic"}, "/v1/optimize")
	c.ObserveLatency("/v1/optimize", 0.07)
	c.RecordDashboardEvent("ok")
	c.IncrementActive()

	rec := httptest.NewRecorder()
	PrometheusHandler(c)(rec, httptest.NewRequest("GET", "/v1/metrics", nil))

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "version=0.0.4") {
		t.Errorf("Content-Type = %q", ct)
	}

	for _, want := range []string{
		`token_optimizer_requests_total{endpoint="/v1/optimize",status="200"} 1`,
		`token_optimizer_requests_total{endpoint="/v1/optimize",status="401"} 1`,
		"token_optimizer_tokens_before_total 800",
		"token_optimizer_tokens_after_total 300",
		"token_optimizer_tokens_saved_total 500",
		`token_optimizer_route_total{route="heuristic+semantic"} 1`,
		`token_optimizer_dashboard_events_total{status="ok"} 1`,
		"token_optimizer_active_requests 1",
		`token_optimizer_latency_seconds_bucket{endpoint="/v1/optimize",le="0.1"} 1`,
		`token_optimizer_latency_seconds_bucket{endpoint="/v1/optimize",le="+Inf"} 1`,
		`token_optimizer_latency_seconds_count{endpoint="/v1/optimize"} 1`,
		"# TYPE token_optimizer_latency_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	hv := newHistogramVec([]float64{0.1, 1, 10})
	hv.observe(0.05)
	hv.observe(0.5)
	hv.observe(0.7)
	hv.observe(20) // only lands in +Inf

	entries := hv.snapshot()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	h := entries[0]
	if h.count != 4 {
		t.Errorf("count = %d", h.count)
	}
	// Per-bucket (non-cumulative) counts: 1 in <=0.1, 2 in <=1, 0 in <=10.
	if h.counts[0] != 1 || h.counts[1] != 2 || h.counts[2] != 0 {
		t.Errorf("bucket counts = %v", h.counts)
	}
	if h.sum != 0.05+0.5+0.7+20 {
		t.Errorf("sum = %g", h.sum)
	}
}

func TestCounterVecLabels(t *testing.T) {
	cv := newCounterVec("endpoint", "status")
	cv.inc("/v1/chat", "200")
	cv.inc("/v1/chat", "200")
	cv.inc("/v1/chat", "500")

	entries := cv.snapshot()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	for _, e := range entries {
		switch e.labels["status"] {
		case "200":
			if e.value != 2 {
				t.Errorf("200 count = %d", e.value)
			}
		case "500":
			if e.value != 1 {
				t.Errorf("500 count = %d", e.value)
			}
		default:
			t.Errorf("unexpected labels %v", e.labels)
		}
	}
}
