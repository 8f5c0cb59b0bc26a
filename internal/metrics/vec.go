package metrics

import (
	"sort"
	"strings"
	"sync"
)

// labelKey builds a stable map key from label values in a fixed order.
func labelKey(values []string) string {
	return strings.Join(values, "\x00")
}

// counterVec is a labeled counter family. Label names are fixed at
// construction; each unique combination of values gets its own counter.
type counterVec struct {
	mu     sync.Mutex
	names  []string
	counts map[string]int64
}

func newCounterVec(names ...string) *counterVec {
	return &counterVec{names: names, counts: make(map[string]int64)}
}

func (cv *counterVec) inc(values ...string) {
	cv.add(1, values...)
}

func (cv *counterVec) add(delta int64, values ...string) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	cv.counts[labelKey(values)] += delta
}

type counterEntry struct {
	labels map[string]string
	value  int64
}

// snapshot returns the current entries sorted by label key for stable output.
func (cv *counterVec) snapshot() []counterEntry {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	keys := make([]string, 0, len(cv.counts))
	for k := range cv.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]counterEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, counterEntry{
			labels: labelsFor(cv.names, k),
			value:  cv.counts[k],
		})
	}
	return entries
}

// histogram is a single cumulative histogram with fixed bucket bounds.
type histogram struct {
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func (h *histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
}

// histogramVec is a labeled histogram family sharing one set of bounds.
type histogramVec struct {
	mu      sync.Mutex
	names   []string
	buckets []float64
	hists   map[string]*histogram
}

func newHistogramVec(buckets []float64, names ...string) *histogramVec {
	return &histogramVec{names: names, buckets: buckets, hists: make(map[string]*histogram)}
}

func (hv *histogramVec) observe(v float64, values ...string) {
	hv.mu.Lock()
	defer hv.mu.Unlock()

	key := labelKey(values)
	h, ok := hv.hists[key]
	if !ok {
		h = &histogram{buckets: hv.buckets, counts: make([]int64, len(hv.buckets))}
		hv.hists[key] = h
	}
	h.observe(v)
}

type histogramEntry struct {
	labels  map[string]string
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func (hv *histogramVec) snapshot() []histogramEntry {
	hv.mu.Lock()
	defer hv.mu.Unlock()

	keys := make([]string, 0, len(hv.hists))
	for k := range hv.hists {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]histogramEntry, 0, len(keys))
	for _, k := range keys {
		h := hv.hists[k]
		counts := make([]int64, len(h.counts))
		copy(counts, h.counts)
		entries = append(entries, histogramEntry{
			labels:  labelsFor(hv.names, k),
			buckets: h.buckets,
			counts:  counts,
			sum:     h.sum,
			count:   h.count,
		})
	}
	return entries
}

// gaugeVec is a labeled gauge family.
type gaugeVec struct {
	mu     sync.Mutex
	names  []string
	values map[string]float64
}

func newGaugeVec(names ...string) *gaugeVec {
	return &gaugeVec{names: names, values: make(map[string]float64)}
}

func (gv *gaugeVec) set(v float64, values ...string) {
	gv.mu.Lock()
	defer gv.mu.Unlock()
	gv.values[labelKey(values)] = v
}

type gaugeEntry struct {
	labels map[string]string
	value  float64
}

func (gv *gaugeVec) snapshot() []gaugeEntry {
	gv.mu.Lock()
	defer gv.mu.Unlock()

	keys := make([]string, 0, len(gv.values))
	for k := range gv.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]gaugeEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, gaugeEntry{labels: labelsFor(gv.names, k), value: gv.values[k]})
	}
	return entries
}

func labelsFor(names []string, key string) map[string]string {
	values := strings.Split(key, "\x00")
	labels := make(map[string]string, len(names))
	for i, name := range names {
		if i < len(values) {
			labels[name] = values[i]
		}
	}
	return labels
}
