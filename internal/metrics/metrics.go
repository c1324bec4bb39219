package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

const namespace = "dualkv"

// Transport labels
const (
	TransportTCP = "tcp"
	TransportUDP = "udp"
)

// Metrics holds the server's Prometheus collectors. Each instance owns its
// own registry so several servers can coexist in one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transportFaults *prometheus.CounterVec

	sessionsAbandoned prometheus.Counter
	sessionsOpen      prometheus.Gauge
	storeKeys         prometheus.Gauge
}

// New creates a Metrics instance backed by a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of completed requests",
			},
			[]string{"transport", "kind", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from first field received to final reply sent",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport", "kind"},
		),
		transportFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_faults_total",
				Help:      "Requests aborted by a transport fault",
			},
			[]string{"transport", "reason"},
		),

		sessionsAbandoned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "udp_sessions_abandoned_total",
				Help:      "Partial UDP requests dropped after a timeout, eviction or fault",
			},
		),
		sessionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "udp_sessions_open",
				Help:      "Partial UDP requests awaiting further datagrams",
			},
		),
		storeKeys: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_keys",
				Help:      "Number of keys held in the store",
			},
		),
	}
}

// Registry exposes the underlying registry for HTTP export and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(transport string, kind protocol.Kind, status protocol.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(transport, kind.String(), status.String()).Inc()
	m.requestDuration.WithLabelValues(transport, kind.String()).Observe(d.Seconds())
}

// TransportFault records a request aborted before a final reply.
func (m *Metrics) TransportFault(transport, reason string) {
	if m == nil {
		return
	}
	m.transportFaults.WithLabelValues(transport, reason).Inc()
}

// SessionAbandoned counts a partial UDP request dropped before completion.
func (m *Metrics) SessionAbandoned() {
	if m == nil {
		return
	}
	m.sessionsAbandoned.Inc()
}

// SetSessionsOpen records the number of open UDP sessions.
func (m *Metrics) SetSessionsOpen(n int) {
	if m == nil {
		return
	}
	m.sessionsOpen.Set(float64(n))
}

// SetStoreKeys records the number of keys in the store.
func (m *Metrics) SetStoreKeys(n int) {
	if m == nil {
		return
	}
	m.storeKeys.Set(float64(n))
}
