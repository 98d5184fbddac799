// Package metrics provides Prometheus metrics for the realtime delivery
// service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latency buckets in milliseconds, dense around the 1s alert threshold.
var defaultLatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 750, 1000, 1500, 2000, 5000, 10000}

// Manager owns every Prometheus collector of the service. A nil *Manager
// is valid and records nothing.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry
	runtime          bool

	// Publish path
	eventsPublished *prometheus.CounterVec
	publishFailures *prometheus.CounterVec

	// Delivery path
	eventsDelivered  *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec

	// Connections
	connectionsActive prometheus.Gauge
	connectionsOpened prometheus.Counter
	connectionsReaped prometheus.Counter
	reconnections     prometheus.Counter

	// Replay
	eventsReplayed  prometheus.Counter
	replayTruncated prometheus.Counter

	// Alerting
	alertsFired *prometheus.CounterVec

	sequenceDegraded prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager registered on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "realtime",
		subsystem:        "sse",
		histogramBuckets: defaultLatencyBuckets,
		runtime:          true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	if m.runtime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.eventsPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_published_total",
		Help:      "Events persisted and broadcast on a tenant channel",
	}, []string{"event_type"})

	m.publishFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_failures_total",
		Help:      "Publish attempts that failed, by failing stage",
	}, []string{"stage"})

	m.eventsDelivered = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_delivered_total",
		Help:      "Events written to a client stream",
	}, []string{"event_type"})

	m.deliveryFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "delivery_failures_total",
		Help:      "Events that could not be delivered, by reason",
	}, []string{"reason"})

	m.deliveryLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "delivery_latency_milliseconds",
		Help:      "Publish to delivery latency in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"event_type"})

	m.connectionsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connections_active",
		Help:      "Currently registered client streams",
	})

	m.connectionsOpened = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connections_opened_total",
		Help:      "Client streams opened",
	})

	m.connectionsReaped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connections_reaped_total",
		Help:      "Client streams removed by the liveness sweeper",
	})

	m.reconnections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reconnections_total",
		Help:      "Streams opened with a last event id",
	})

	m.eventsReplayed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_replayed_total",
		Help:      "Missed events replayed to reconnecting clients",
	})

	m.replayTruncated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "replay_truncated_total",
		Help:      "Replays cut down to the missed event cap",
	})

	m.alertsFired = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "alerts_fired_total",
		Help:      "Alerts raised by the latency monitor",
	}, []string{"alert_type", "severity"})

	m.sequenceDegraded = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sequence_degraded",
		Help:      "1 while sequence numbers are issued without the shared counter store",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds (streams excluded)",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}
