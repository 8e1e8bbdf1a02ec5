// Package metrics bundles the Prometheus collectors for the scrape engine
// on a dedicated registry. All methods are nil-safe so wiring metrics
// stays optional in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache event labels.
const (
	CacheHit   = "hit"
	CacheStale = "stale"
	CacheMiss  = "miss"
)

// Metrics bundles Prometheus collectors for the scrape engine.
type Metrics struct {
	Registry          *prometheus.Registry
	ScrapesTotal      *prometheus.CounterVec
	ScrapeDuration    prometheus.Histogram
	RetriesTotal      prometheus.Counter
	CacheEventsTotal  *prometheus.CounterVec
	RefreshesInflight prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	scrapes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotwatch_scrapes_total",
			Help: "Completed scrape refreshes by result.",
		},
		[]string{"result"},
	)
	scrapeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lotwatch_scrape_duration_seconds",
			Help:    "End-to-end refresh latency including retries.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lotwatch_retries_total",
			Help: "Retry attempts scheduled by the backoff controller.",
		},
	)
	cacheEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotwatch_cache_events_total",
			Help: "Result cache reads by outcome.",
		},
		[]string{"event"},
	)
	refreshesInflight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotwatch_refreshes_inflight",
			Help: "Refresh workflows currently running.",
		},
	)

	registry.MustRegister(scrapes, scrapeDuration, retries, cacheEvents, refreshesInflight)

	return &Metrics{
		Registry:          registry,
		ScrapesTotal:      scrapes,
		ScrapeDuration:    scrapeDuration,
		RetriesTotal:      retries,
		CacheEventsTotal:  cacheEvents,
		RefreshesInflight: refreshesInflight,
	}
}

// RegisterPoolGauges exposes the session pool's capacity and leased count.
// Called once at wiring time with closures over the live pool.
func (m *Metrics) RegisterPoolGauges(capacity, leased func() float64) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lotwatch_pool_sessions_capacity",
			Help: "Configured browser session pool size.",
		}, capacity),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lotwatch_pool_sessions_leased",
			Help: "Browser sessions currently leased to extractions.",
		}, leased),
	)
}

// IncScrape increments the scrape counter for a result label
// ("success" or an error code).
func (m *Metrics) IncScrape(result string) {
	if m == nil {
		return
	}
	m.ScrapesTotal.WithLabelValues(result).Inc()
}

// ObserveScrapeDuration records one refresh duration.
func (m *Metrics) ObserveScrapeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapeDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncCacheEvent increments the cache events counter for an event label.
func (m *Metrics) IncCacheEvent(event string) {
	if m == nil {
		return
	}
	m.CacheEventsTotal.WithLabelValues(event).Inc()
}

// RefreshStarted marks a refresh workflow as in flight.
func (m *Metrics) RefreshStarted() {
	if m == nil {
		return
	}
	m.RefreshesInflight.Inc()
}

// RefreshFinished marks a refresh workflow as done.
func (m *Metrics) RefreshFinished() {
	if m == nil {
		return
	}
	m.RefreshesInflight.Dec()
}
