// Package metric manages Prometheus metrics for WinM services.
// Each binary owns a private registry so tests never collide on the
// default global registry.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the platform-level metrics shared by all WinM roles.
type Metrics struct {
	// API tier
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EventsPublished     *prometheus.CounterVec
	GraphQueries        *prometheus.CounterVec

	// Consumers
	EventsProjected *prometheus.CounterVec
	TasksProcessed  *prometheus.CounterVec
	ResultsStored   prometheus.Counter

	// Queue connection
	QueueConnected  prometheus.Gauge
	QueueReconnects prometheus.Counter
}

// Registry wraps a private Prometheus registry with the WinM core metrics.
type Registry struct {
	registry *prometheus.Registry
	Metrics  *Metrics
}

// NewRegistry creates a registry with core metrics plus Go runtime and
// process collectors.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	m := newMetrics()
	registry.MustRegister(
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.EventsPublished,
		m.GraphQueries,
		m.EventsProjected,
		m.TasksProcessed,
		m.ResultsStored,
		m.QueueConnected,
		m.QueueReconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{registry: registry, Metrics: m}
}

// Handler returns the HTTP handler serving the /metrics scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Prometheus returns the underlying registry, for tests.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "winm",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "winm",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "winm",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of graph events published",
			},
			[]string{"event_type"},
		),
		GraphQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "winm",
				Subsystem: "graph",
				Name:      "queries_total",
				Help:      "Total number of graph store queries",
			},
			[]string{"operation"},
		),
		EventsProjected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "winm",
				Subsystem: "projector",
				Name:      "events_total",
				Help:      "Total number of graph events processed by the projector",
			},
			[]string{"event_type", "status"},
		),
		TasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "winm",
				Subsystem: "worker",
				Name:      "tasks_total",
				Help:      "Total number of LLM tasks processed",
			},
			[]string{"type", "status"},
		),
		ResultsStored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "winm",
				Subsystem: "results",
				Name:      "stored_total",
				Help:      "Total number of results stored by the result subscriber",
			},
		),
		QueueConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "winm",
				Subsystem: "queue",
				Name:      "connected",
				Help:      "Queue connection status (1=connected, 0=disconnected)",
			},
		),
		QueueReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "winm",
				Subsystem: "queue",
				Name:      "reconnects_total",
				Help:      "Total number of queue reconnections",
			},
		),
	}
}
