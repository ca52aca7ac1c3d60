package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheSnapshot is the point-in-time view a cache exposes to the collectors.
type CacheSnapshot struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Items       int
}

// RegisterCache exports the counters of a process-local cache. The snapshot
// func is called on every scrape and must be safe for concurrent use.
func RegisterCache(reg prometheus.Registerer, name string, snapshot func() CacheSnapshot) {
	if reg == nil || snapshot == nil {
		return
	}
	labels := prometheus.Labels{"cache": normalizeLabel(name)}
	counter := func(metric, help string, pick func(CacheSnapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(pick(snapshot())) })
	}
	reg.MustRegister(
		counter("cache_hits_total", "Cache lookups that found a live entry.", func(s CacheSnapshot) uint64 { return s.Hits }),
		counter("cache_misses_total", "Cache lookups that found nothing or an expired entry.", func(s CacheSnapshot) uint64 { return s.Misses }),
		counter("cache_evictions_total", "Entries evicted by the capacity bound.", func(s CacheSnapshot) uint64 { return s.Evictions }),
		counter("cache_expirations_total", "Entries removed after their TTL elapsed.", func(s CacheSnapshot) uint64 { return s.Expirations }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_items",
			Help:        "Entries currently held.",
			ConstLabels: labels,
		}, func() float64 { return float64(snapshot().Items) }),
	)
}
