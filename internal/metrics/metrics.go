// Package metrics exposes Prometheus instrumentation for uploads,
// allocations and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal      *prometheus.CounterVec
	ingestDuration   prometheus.Histogram
	rowsStored       prometheus.Counter
	rowsSkipped      prometheus.Counter
	allocationsTotal *prometheus.CounterVec
	jobsAssigned     prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers all collectors under namespace (defaults to "tile_alloc")
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tile_alloc"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "CSV uploads by terminal outcome.",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Time from upload start to settled outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		rowsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_stored_total",
			Help:      "CSV rows stored as jobs.",
		}),
		rowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_skipped_total",
			Help:      "CSV rows dropped for lacking a tile id.",
		}),
		allocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "requests_total",
			Help:      "Tile allocation attempts by result.",
		}, []string{"result"}),
		jobsAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "jobs_assigned_total",
			Help:      "Jobs moved from Unassigned to Assigned.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestTotal,
		m.ingestDuration,
		m.rowsStored,
		m.rowsSkipped,
		m.allocationsTotal,
		m.jobsAssigned,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry returns the registry backing this instance
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IngestFinished(outcome string, elapsed time.Duration, stored, skipped int) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
	m.rowsStored.Add(float64(stored))
	m.rowsSkipped.Add(float64(skipped))
}

func (m *Metrics) AllocationFinished(result string, assigned int64) {
	m.allocationsTotal.WithLabelValues(result).Inc()
	m.jobsAssigned.Add(float64(assigned))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
