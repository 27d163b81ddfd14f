// Package metrics provides Prometheus metrics for the note cache and search
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/lazypower/canopy/internal/events"
	"github.com/prometheus/client_golang/prometheus"
)

// Search outcome label values.
const (
	StatusOK        = "ok"
	StatusQueryErr  = "query_error"
	StatusCancelled = "cancelled"
)

// Metrics contains Prometheus metrics for cache, search and event bus
// operations. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheNotes       prometheus.Gauge
	cacheLoadSeconds prometheus.Histogram

	searchTotal    *prometheus.CounterVec
	searchDuration prometheus.Histogram

	eventsDropped prometheus.CounterFunc
	bus           atomic.Pointer[events.Bus]
}

// New creates and registers metrics against registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.cacheNotes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canopy_cache_notes",
		Help: "Number of live notes held by the graph cache",
	})

	m.cacheLoadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "canopy_cache_load_seconds",
		Help: "Time taken to load the graph cache from storage",
		// 1ms to ~30s
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	m.searchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_search_total",
			Help: "Total number of executed searches",
		},
		[]string{"status"}, // status: ok, query_error, cancelled
	)

	m.searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "canopy_search_duration_seconds",
		Help:    "Time taken to evaluate a search query",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	m.eventsDropped = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "canopy_events_dropped_total",
			Help: "Change events dropped because the bus buffer was full",
		},
		func() float64 {
			return float64(m.bus.Load().Stats().Dropped)
		},
	)
}

// Registry returns the registry the metrics were registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WatchBus exposes the drop counter of b.
func (m *Metrics) WatchBus(b *events.Bus) {
	if m == nil {
		return
	}
	m.bus.Store(b)
}

// ObserveCacheLoad records a completed cache load.
func (m *Metrics) ObserveCacheLoad(d time.Duration, notes int) {
	if m == nil {
		return
	}
	m.cacheLoadSeconds.Observe(d.Seconds())
	m.cacheNotes.Set(float64(notes))
}

// SetCacheNotes updates the live note gauge.
func (m *Metrics) SetCacheNotes(notes int) {
	if m == nil {
		return
	}
	m.cacheNotes.Set(float64(notes))
}

// ObserveSearch records one search with its outcome.
func (m *Metrics) ObserveSearch(d time.Duration, status string) {
	if m == nil {
		return
	}
	m.searchTotal.WithLabelValues(status).Inc()
	m.searchDuration.Observe(d.Seconds())
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.cacheNotes.Describe(ch)
	m.cacheLoadSeconds.Describe(ch)
	m.searchTotal.Describe(ch)
	m.searchDuration.Describe(ch)
	m.eventsDropped.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.cacheNotes.Collect(ch)
	m.cacheLoadSeconds.Collect(ch)
	m.searchTotal.Collect(ch)
	m.searchDuration.Collect(ch)
	m.eventsDropped.Collect(ch)
}
