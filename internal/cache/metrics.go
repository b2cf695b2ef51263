package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache-level Prometheus metrics. Per-region counters carry a "region" label; all metrics carry a
// "cache" label equal to Options.Name so several cache instances can be told apart.
var (
	// HitsTotal counts successful lookups per region.
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits.",
		},
		[]string{"cache", "region"},
	)

	// MissesTotal counts failed lookups per region, including expired entries.
	MissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses.",
		},
		[]string{"cache", "region"},
	)

	// EvictionsTotal counts entries evicted because of capacity pressure.
	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of entries evicted from the cache to stay under its caps.",
		},
		[]string{"cache", "region"},
	)

	// ExpirationsTotal counts entries dropped because their TTL elapsed.
	ExpirationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_expirations_total",
			Help: "Total number of entries dropped after their TTL elapsed.",
		},
		[]string{"cache", "region"},
	)

	// RejectionsTotal counts writes dropped because they could not fit under the hard cap.
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_rejections_total",
			Help: "Total number of writes dropped because they did not fit under the hard cap.",
		},
		[]string{"cache", "region"},
	)

	// SoftCapCrossingsTotal counts commits that left the cache above its soft cap.
	SoftCapCrossingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_soft_cap_crossings_total",
			Help: "Total number of writes committed above the soft cap.",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(
		HitsTotal,
		MissesTotal,
		EvictionsTotal,
		ExpirationsTotal,
		RejectionsTotal,
		SoftCapCrossingsTotal,
	)
}

// cacheCollector is a Prometheus Collector that lazily reports burden, budget and per-region
// sizes by reading the live cache at scrape time instead of mirroring them in gauges.
type cacheCollector struct {
	cache       *CappedLocalCache
	burdenDesc  *prometheus.Desc
	ceilingDesc *prometheus.Desc
	hardDesc    *prometheus.Desc
	softDesc    *prometheus.Desc
	entriesDesc *prometheus.Desc
	regionBytes *prometheus.Desc
}

func newCacheCollector(c *CappedLocalCache) *cacheCollector {
	labels := prometheus.Labels{"cache": c.name}
	return &cacheCollector{
		cache:       c,
		burdenDesc:  prometheus.NewDesc("cache_burden_bytes", "Bytes currently used by all cache entries.", nil, labels),
		ceilingDesc: prometheus.NewDesc("cache_ceiling_bytes", "Cache ceiling derived from heap capacity and capPercent.", nil, labels),
		hardDesc:    prometheus.NewDesc("cache_hard_cap_bytes", "Hard cap in bytes.", nil, labels),
		softDesc:    prometheus.NewDesc("cache_soft_cap_bytes", "Soft cap in bytes.", nil, labels),
		entriesDesc: prometheus.NewDesc("cache_region_entries", "Current number of entries per region.", []string{"region"}, labels),
		regionBytes: prometheus.NewDesc("cache_region_bytes", "Bytes currently used per region.", []string{"region"}, labels),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.burdenDesc
	ch <- c.ceilingDesc
	ch <- c.hardDesc
	ch <- c.softDesc
	ch <- c.entriesDesc
	ch <- c.regionBytes
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	info := c.cache.Info()
	ch <- prometheus.MustNewConstMetric(c.burdenDesc, prometheus.GaugeValue, float64(info.Burden))
	ch <- prometheus.MustNewConstMetric(c.ceilingDesc, prometheus.GaugeValue, float64(info.Total))
	ch <- prometheus.MustNewConstMetric(c.hardDesc, prometheus.GaugeValue, float64(info.HardCapBytes))
	ch <- prometheus.MustNewConstMetric(c.softDesc, prometheus.GaugeValue, float64(info.SoftCapBytes))
	for _, region := range info.Regions {
		ch <- prometheus.MustNewConstMetric(c.entriesDesc, prometheus.GaugeValue, float64(region.Entries), region.Name)
		ch <- prometheus.MustNewConstMetric(c.regionBytes, prometheus.GaugeValue, float64(region.Size), region.Name)
	}
}

var (
	collectorsMu sync.Mutex
	collectors   = make(map[string]*cacheCollector)
	// collectorReg is the Prometheus registerer used for cache collectors.
	// Exposed as a variable so tests can substitute an isolated registry.
	collectorReg prometheus.Registerer = prometheus.DefaultRegisterer
)

// registerCollector registers the lazy collector of c. A collector already registered under the
// same cache name is replaced, which happens when a cache is recreated (e.g., in tests).
func registerCollector(c *CappedLocalCache) {
	collector := newCacheCollector(c)

	collectorsMu.Lock()
	defer collectorsMu.Unlock()

	if old, ok := collectors[c.name]; ok {
		collectorReg.Unregister(old)
	}
	collectors[c.name] = collector
	_ = collectorReg.Register(collector)
}

// unregisterCollector removes the collector of c if it is still the registered one.
func unregisterCollector(c *CappedLocalCache) {
	collectorsMu.Lock()
	defer collectorsMu.Unlock()

	if current, ok := collectors[c.name]; ok && current.cache == c {
		collectorReg.Unregister(current)
		delete(collectors, c.name)
	}
}
