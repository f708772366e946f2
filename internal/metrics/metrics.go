package metrics

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qrclinic"

// Metrics holds the Prometheus collectors for the stats engine.
type Metrics struct {
	StoreQueries  *prometheus.CounterVec
	StoreFailures *prometheus.CounterVec
	StoreLatency  *prometheus.HistogramVec

	CacheLookups *prometheus.CounterVec

	Reports       *prometheus.CounterVec
	ReportLatency *prometheus.HistogramVec
	TrendsOmitted prometheus.Counter
	GeoIPLookups  *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide metrics, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = newMetrics(namespace)
	})
	return defaultMetrics
}

func newMetrics(ns string) *Metrics {
	return &Metrics{
		StoreQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "store_queries_total",
				Help:      "Total number of event store queries",
			},
			[]string{"kind", "query"},
		),
		StoreFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "store_failures_total",
				Help:      "Total number of failed event store queries",
			},
			[]string{"kind", "query"},
		),
		StoreLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "store_query_duration_seconds",
				Help:      "Event store query latency",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind", "query"},
		),
		CacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "report_cache_lookups_total",
				Help:      "Report cache lookups by result",
			},
			[]string{"operation", "result"},
		),
		Reports: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "reports_total",
				Help:      "Total number of assembled reports",
			},
			[]string{"operation", "status"},
		),
		ReportLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "report_duration_seconds",
				Help:      "Time to assemble a report",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TrendsOmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "trends_omitted_total",
				Help:      "Overall reports returned without trends after a previous-period failure",
			},
		),
		GeoIPLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "geoip_lookups_total",
				Help:      "GeoIP place lookups by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveStoreQuery records one event store call.
func (m *Metrics) ObserveStoreQuery(kind, query string, started time.Time, err error) {
	m.StoreQueries.WithLabelValues(kind, query).Inc()
	m.StoreLatency.WithLabelValues(kind, query).Observe(time.Since(started).Seconds())
	if err != nil {
		m.StoreFailures.WithLabelValues(kind, query).Inc()
	}
}

// ObserveReport records one report assembly.
func (m *Metrics) ObserveReport(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Reports.WithLabelValues(operation, status).Inc()
	m.ReportLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// CacheHit records a report cache hit or miss.
func (m *Metrics) CacheHit(operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(operation, result).Inc()
}

// Handler exposes the default registry as a fiber handler.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
