package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	RelayOutcomes   *prometheus.CounterVec
	RelayDuration   prometheus.Histogram
	ProxyRejections *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on a private registry so several
// instances (tests, embedded servers) never collide.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(namespace, reg, reg)
}

func newMetrics(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of authenticated sessions currently open.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		RelayOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_outcomes_total",
			Help:      "Webhook relay attempts by result kind.",
		}, []string{"outcome"}),
		RelayDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_duration_seconds",
			Help:      "Wall time of one webhook relay round trip.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		ProxyRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_rejections_total",
			Help:      "Uploads refused by the proxy route before relaying, by reason.",
		}, []string{"reason"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Session websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		gatherer: gatherer,
	}
}

func (m *Metrics) ObserveRelay(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RelayOutcomes.WithLabelValues(outcome).Inc()
	m.RelayDuration.Observe(d.Seconds())
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("login").Inc()
}

// SessionEnded records a session leaving the store; reason is "logout" or "expired".
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues(reason).Inc()
}

func (m *Metrics) LoginFailed() {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues("login_failed").Inc()
}

func (m *Metrics) ProxyRejected(reason string) {
	if m == nil {
		return
	}
	m.ProxyRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
