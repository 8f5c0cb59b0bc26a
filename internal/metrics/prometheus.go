package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// namespace prefixes every exported series.
const namespace = "token_optimizer_"

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). Metrics are formatted
// manually; the Prometheus client library is not required.
func PrometheusHandler(c *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeCounterVec(w, namespace+"requests_total",
			"Total number of API requests by endpoint and status.",
			c.requests)

		writeMetric(w, namespace+"tokens_before_total",
			"Total prompt tokens before optimization.",
			"counter", atomic.LoadInt64(&c.tokensBefore))

		writeMetric(w, namespace+"tokens_after_total",
			"Total prompt tokens after optimization.",
			"counter", atomic.LoadInt64(&c.tokensAfter))

		writeMetric(w, namespace+"tokens_saved_total",
			"Total prompt tokens removed by optimization.",
			"counter", atomic.LoadInt64(&c.tokensSaved))

		writeMetricFloat(w, namespace+"cost_saved_usd_total",
			"Estimated input spend avoided by optimization, in USD.",
			"counter", math.Float64frombits(atomic.LoadUint64(&c.costSavedBits)))

		writeHistogramVec(w, namespace+"latency_seconds",
			"Optimization latency in seconds by endpoint.",
			c.latency)

		writeMetric(w, namespace+"cache_hits_total",
			"Total result cache hits.",
			"counter", atomic.LoadInt64(&c.cacheHits))

		writeMetric(w, namespace+"cache_misses_total",
			"Total result cache misses.",
			"counter", atomic.LoadInt64(&c.cacheMisses))

		writeCounterVec(w, namespace+"route_total",
			"Total optimizations by pipeline route.",
			c.routes)

		writeCounterVec(w, namespace+"dashboard_events_total",
			"Total dashboard event emissions by outcome.",
			c.dashboardEvents)

		writeMetric(w, namespace+"active_requests",
			"Number of requests currently being processed.",
			"gauge", atomic.LoadInt64(&c.activeRequests))

		writeMetricFloat(w, namespace+"uptime_seconds",
			"Seconds since the service started.",
			"gauge", time.Since(c.startTime).Seconds())
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

// formatLabels formats a label map as a Prometheus label string, e.g.
// {endpoint="/v1/optimize",status="200"}.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// writeCounterVec writes a labeled counter family.
func writeCounterVec(w http.ResponseWriter, name, help string, cv *counterVec) {
	entries := cv.snapshot()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, e := range entries {
		fmt.Fprintf(w, "%s%s %d\n", name, formatLabels(e.labels), e.value)
	}
}

// writeHistogramVec writes a labeled histogram family with cumulative
// bucket counts.
func writeHistogramVec(w http.ResponseWriter, name, help string, hv *histogramVec) {
	entries := hv.snapshot()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", name)
	for _, h := range entries {
		labels := formatLabels(h.labels)
		var cumulative int64
		for i, bound := range h.buckets {
			cumulative += h.counts[i]
			fmt.Fprintf(w, "%s_bucket%s %d\n", name, formatLabelsWithLe(h.labels, fmt.Sprintf("%g", bound)), cumulative)
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", name, formatLabelsWithLe(h.labels, "+Inf"), h.count)
		fmt.Fprintf(w, "%s_sum%s %g\n", name, labels, h.sum)
		fmt.Fprintf(w, "%s_count%s %d\n", name, labels, h.count)
	}
}

// formatLabelsWithLe appends the histogram "le" label to a label set.
func formatLabelsWithLe(labels map[string]string, le string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%q,", k, labels[k])
	}
	fmt.Fprintf(&b, "le=%q", le)
	b.WriteByte('}')
	return b.String()
}
