package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics provides observability for the metadata cache.
//
// Every method takes the cache table name ("lookup", "attr", "parent" or
// "dir").
type CacheMetrics interface {
	// RecordHit records a lookup served from the cache.
	RecordHit(table string)

	// RecordMiss records a lookup that had to go to the backing store.
	RecordMiss(table string)

	// RecordLoad records a backing store load performed on a miss.
	RecordLoad(table string, duration time.Duration, err error)

	// RecordInvalidation records an entry dropped because of a mutation.
	RecordInvalidation(table string)

	// RecordEviction records an entry dropped because of capacity or TTL.
	RecordEviction(table string)
}

type cacheMetrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	loads         *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	invalidations *prometheus.CounterVec
	evictions     *prometheus.CounterVec
}

// NewCacheMetrics creates a Prometheus-backed CacheMetrics, or a no-op
// implementation when metrics are disabled.
func NewCacheMetrics() CacheMetrics {
	if !IsEnabled() {
		return noopCacheMetrics{}
	}

	reg := GetRegistry()

	return &cacheMetrics{
		hits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_metadata_cache_hits_total",
				Help: "Total number of metadata cache hits by table",
			},
			[]string{"table"},
		),
		misses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_metadata_cache_misses_total",
				Help: "Total number of metadata cache misses by table",
			},
			[]string{"table"},
		),
		loads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_metadata_cache_loads_total",
				Help: "Total number of backing store loads by table and status",
			},
			[]string{"table", "status"},
		),
		loadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittofs_metadata_cache_load_duration_seconds",
				Help: "Duration of backing store loads in seconds",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1.0,     // 1s
				},
			},
			[]string{"table"},
		),
		invalidations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_metadata_cache_invalidations_total",
				Help: "Total number of entries invalidated by mutations",
			},
			[]string{"table"},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_metadata_cache_evictions_total",
				Help: "Total number of entries evicted by capacity or expiry",
			},
			[]string{"table"},
		),
	}
}

func (m *cacheMetrics) RecordHit(table string) {
	m.hits.WithLabelValues(table).Inc()
}

func (m *cacheMetrics) RecordMiss(table string) {
	m.misses.WithLabelValues(table).Inc()
}

func (m *cacheMetrics) RecordLoad(table string, duration time.Duration, err error) {
	m.loads.WithLabelValues(table, statusOf(err)).Inc()
	m.loadDuration.WithLabelValues(table).Observe(duration.Seconds())
}

func (m *cacheMetrics) RecordInvalidation(table string) {
	m.invalidations.WithLabelValues(table).Inc()
}

func (m *cacheMetrics) RecordEviction(table string) {
	m.evictions.WithLabelValues(table).Inc()
}

// NewNoopCacheMetrics returns a CacheMetrics that discards everything.
func NewNoopCacheMetrics() CacheMetrics {
	return noopCacheMetrics{}
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordHit(table string)                                     {}
func (noopCacheMetrics) RecordMiss(table string)                                    {}
func (noopCacheMetrics) RecordLoad(table string, duration time.Duration, err error) {}
func (noopCacheMetrics) RecordInvalidation(table string)                            {}
func (noopCacheMetrics) RecordEviction(table string)                                {}
