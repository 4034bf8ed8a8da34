package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the service
type Metrics struct {
	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    prometheus.Counter
	CacheRefills   prometheus.Counter
	StaleReads     prometheus.Counter
	LocalEvictions prometheus.Counter
	RefillDuration prometheus.Histogram

	// Ingestion metrics
	IngestedItems *prometheus.CounterVec
	MatchesStored prometheus.Counter

	// Health recorder metrics
	HealthFlushes prometheus.Counter
	HealthDropped prometheus.Counter

	// Task metrics
	TasksProcessed *prometheus.CounterVec
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_bundles_cache_hits_total",
			Help: "Story cache hits by tier",
		}, []string{"tier"}),

		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_bundles_cache_misses_total",
			Help: "Story cache reads that missed every tier",
		}),

		CacheRefills: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_bundles_cache_refills_total",
			Help: "Story cache rebuilds from the match index",
		}),

		StaleReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_bundles_cache_stale_reads_total",
			Help: "Reads served from a cache older than its max age",
		}),

		LocalEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_bundles_cache_local_evictions_total",
			Help: "Bundles evicted from the local tier after a quota failure",
		}),

		RefillDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rss_bundles_cache_refill_duration_seconds",
			Help:    "Story cache rebuild latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		IngestedItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_bundles_ingested_items_total",
			Help: "Feed items processed by the ingestor by result",
		}, []string{"result"}), // saved, skipped, failed

		MatchesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_bundles_matches_stored_total",
			Help: "Bundle matches written to the match index",
		}),

		HealthFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_bundles_health_flushes_total",
			Help: "Health batches written to the store",
		}),

		HealthDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_bundles_health_dropped_batches_total",
			Help: "Health batches dropped after a failed write",
		}),

		TasksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_bundles_tasks_processed_total",
			Help: "Scheduler tasks by type and status",
		}, []string{"type", "status"}),
	}
}

// NewNop returns metrics registered on a throwaway registry, for tests and tools
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
