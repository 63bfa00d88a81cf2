package modelcache

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for eviction reasons.
const (
	reasonCapacity = "capacity"
	reasonExpired  = "expired"
	reasonStale    = "stale_artifact"
	reasonReplaced = "replaced"
	reasonExplicit = "explicit"
)

var (
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_model_cache_hits_total",
			Help: "Total model cache lookups that returned a live handle.",
		},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_model_cache_misses_total",
			Help: "Total model cache lookups that found no usable entry.",
		},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_model_cache_evictions_total",
			Help: "Total model cache entries removed, by reason.",
		},
		[]string{"reason"},
	)

	cacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_model_cache_entries",
			Help: "Current number of entries in the model cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(cacheEvictions)
	prometheus.MustRegister(cacheSize)

	for _, reason := range []string{reasonCapacity, reasonExpired, reasonStale, reasonReplaced, reasonExplicit} {
		cacheEvictions.WithLabelValues(reason)
	}
}
