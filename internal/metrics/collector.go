// Package metrics tracks optimizer counters and serves them in Prometheus
// text exposition format without depending on the Prometheus client library.
package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
)

// latencyBuckets are the histogram bounds in seconds.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Collector tracks live metrics using atomic counters for the scalar series
// and mutex-protected vecs for the labeled ones.
type Collector struct {
	tokensBefore int64
	tokensAfter  int64
	tokensSaved  int64

	costSavedBits uint64 // float64 USD, stored as bits for atomic updates

	cacheHits   int64
	cacheMisses int64

	activeRequests int64

	requests        *counterVec   // endpoint, status
	routes          *counterVec   // route
	dashboardEvents *counterVec   // status
	latency         *histogramVec // endpoint

	startTime time.Time
}

// NewCollector creates a Collector with all counters at zero.
func NewCollector() *Collector {
	return &Collector{
		requests:        newCounterVec("endpoint", "status"),
		routes:          newCounterVec("route"),
		dashboardEvents: newCounterVec("status"),
		latency:         newHistogramVec(latencyBuckets, "endpoint"),
		startTime:       time.Now(),
	}
}

// Optimization is the per-request summary the collector derives series from.
type Optimization struct {
	TokensBefore int
	TokensAfter  int
	TokensSaved  int
	CacheHit     bool
	Route        string
	Model        string
}

// RecordOptimization updates the token, cache, cost, and route series from
// one completed optimization. Token totals only ever grow: a negative saving
// (fallback produced more tokens) is not subtracted.
func (c *Collector) RecordOptimization(opt Optimization, endpoint string) {
	if opt.TokensBefore > 0 {
		atomic.AddInt64(&c.tokensBefore, int64(opt.TokensBefore))
	}
	if opt.TokensAfter > 0 {
		atomic.AddInt64(&c.tokensAfter, int64(opt.TokensAfter))
	}
	if opt.TokensSaved > 0 {
		atomic.AddInt64(&c.tokensSaved, int64(opt.TokensSaved))
		if cost := tokenizer.EstimateInputCost(opt.Model, opt.TokensSaved); cost > 0 {
			addFloat(&c.costSavedBits, cost)
		}
	}

	if opt.CacheHit {
		atomic.AddInt64(&c.cacheHits, 1)
	} else {
		atomic.AddInt64(&c.cacheMisses, 1)
	}

	if opt.Route != "" {
		c.routes.inc(opt.Route)
	}
}

// addFloat atomically adds delta to a float64 stored as bits.
func addFloat(bits *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(bits, old, next) {
			return
		}
	}
}

// RecordRequest counts one HTTP request by endpoint and status code class.
func (c *Collector) RecordRequest(endpoint, status string) {
	c.requests.inc(endpoint, status)
}

// ObserveLatency records one request duration in seconds.
func (c *Collector) ObserveLatency(endpoint string, seconds float64) {
	c.latency.observe(seconds, endpoint)
}

// RecordDashboardEvent counts one dashboard event emission ("ok"/"error").
func (c *Collector) RecordDashboardEvent(status string) {
	c.dashboardEvents.inc(status)
}

// IncrementActive marks a request entering the pipeline.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeRequests, 1)
}

// DecrementActive marks a request leaving the pipeline.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeRequests, -1)
}

// Stats is a point-in-time snapshot for the health and banner endpoints.
type Stats struct {
	Uptime         string  `json:"uptime"`
	TokensBefore   int64   `json:"tokens_before"`
	TokensAfter    int64   `json:"tokens_after"`
	TokensSaved    int64   `json:"tokens_saved"`
	CostSavedUSD   float64 `json:"cost_saved_usd"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	ActiveRequests int64   `json:"active_requests"`
}

// Stats returns a snapshot of the scalar counters.
func (c *Collector) Stats() *Stats {
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return &Stats{
		Uptime:         time.Since(c.startTime).Round(time.Second).String(),
		TokensBefore:   atomic.LoadInt64(&c.tokensBefore),
		TokensAfter:    atomic.LoadInt64(&c.tokensAfter),
		TokensSaved:    atomic.LoadInt64(&c.tokensSaved),
		CostSavedUSD:   math.Float64frombits(atomic.LoadUint64(&c.costSavedBits)),
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheHitRate:   hitRate,
		ActiveRequests: atomic.LoadInt64(&c.activeRequests),
	}
}
