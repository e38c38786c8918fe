// Package metrics exposes device counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/presence-sensor/internal/event"
)

const namespace = "presence"

// Metrics holds the device collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	queueDrops      *prometheus.CounterVec
	connectAttempts prometheus.Counter
	graceArms       prometheus.Counter
	configRejected  *prometheus.CounterVec
	occupied        prometheus.Gauge
	occupancyTotal  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Device events processed by the dispatcher, by kind.",
		}, []string{"kind"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Events dropped because the dispatcher queue was full, by kind.",
		}, []string{"kind"}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_connect_retries_total",
			Help:      "Automatic reconnection attempts after a disconnect.",
		}),
		graceArms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grace_timer_arms_total",
			Help:      "Times the occupancy grace timer was armed.",
		}),
		configRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_rejected_total",
			Help:      "Configuration changes rejected as invalid, by reason.",
		}, []string{"reason"}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupied",
			Help:      "1 while the space is occupied.",
		}),
		occupancyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occupancy_changes_total",
			Help:      "Occupancy transitions, by new state.",
		}, []string{"state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		m.eventsTotal,
		m.queueDrops,
		m.connectAttempts,
		m.graceArms,
		m.configRejected,
		m.occupied,
		m.occupancyTotal,
		m.httpRequests,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventProcessed counts a dispatched event.
func (m *Metrics) EventProcessed(kind string) {
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// QueueDropped counts an event dropped on a full queue.
func (m *Metrics) QueueDropped(e event.Event) {
	m.queueDrops.WithLabelValues(e.Kind()).Inc()
}

// GraceArmed counts a grace timer arm.
func (m *Metrics) GraceArmed() {
	m.graceArms.Inc()
}

// ConfigRejected counts a rejected configuration change.
func (m *Metrics) ConfigRejected(reason string) {
	m.configRejected.WithLabelValues(reason).Inc()
}

// ConnectAttempts adds n reconnection attempts.
func (m *Metrics) ConnectAttempts(n int) {
	if n > 0 {
		m.connectAttempts.Add(float64(n))
	}
}

// Occupancy records an occupancy transition.
func (m *Metrics) Occupancy(occupied bool) {
	if occupied {
		m.occupied.Set(1)
		m.occupancyTotal.WithLabelValues("occupied").Inc()
		return
	}
	m.occupied.Set(0)
	m.occupancyTotal.WithLabelValues("vacant").Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Instrument counts requests served by next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
