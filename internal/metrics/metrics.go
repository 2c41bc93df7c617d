// Package metrics holds the gateway's Prometheus instrumentation.
// All record methods are nil-receiver safe so callers can run without
// metrics wired up.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	sessionsActive    prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	wireErrorsTotal   *prometheus.CounterVec
	authAttempts      *prometheus.CounterVec
	framesIn          prometheus.Counter
	framesOut         prometheus.Counter
}

// New registers the gateway metrics with reg. Pass
// prometheus.DefaultRegisterer for the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	ns := "agentgate"

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "connections_active",
			Help: "Number of currently open connections",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "connections_total",
			Help: "Total accepted connections",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "sessions_active",
			Help: "Number of live authenticated sessions",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "requests_total",
			Help: "Requests routed to a handler, by action and status",
		}, []string{"action", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "request_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		wireErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "wire_errors_total",
			Help: "Error responses sent, by canonical code",
		}, []string{"code"}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "auth_attempts_total",
			Help: "AUTH exchanges, by outcome",
		}, []string{"outcome"}),
		framesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "frames_in_total",
			Help: "Frames decoded from peers",
		}),
		framesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "frames_out_total",
			Help: "Frames written to peers",
		}),
	}
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionDestroyed(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Sub(float64(n))
}

func (m *Metrics) RequestRouted(action, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(action, status).Inc()
	m.requestDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) WireError(code string) {
	if m == nil {
		return
	}
	m.wireErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) AuthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FrameIn() {
	if m == nil {
		return
	}
	m.framesIn.Inc()
}

func (m *Metrics) FrameOut() {
	if m == nil {
		return
	}
	m.framesOut.Inc()
}
