package connectivity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the connectivity core. All methods are nil-safe so
// components can run unmetered (tests, stripped-down builds).
type Metrics struct {
	transitions *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	pollerEvals prometheus.Counter
	stateGauge  *prometheus.GaugeVec
	clients     prometheus.Gauge
}

// NewMetrics registers the connectivity collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papertrail",
			Subsystem: "connectivity",
			Name:      "state_transitions_total",
			Help:      "State machine transitions by from/to state.",
		}, []string{"from", "to"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papertrail",
			Subsystem: "connectivity",
			Name:      "attempts_total",
			Help:      "Connection attempts by outcome.",
		}, []string{"outcome"}),
		pollerEvals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "papertrail",
			Subsystem: "connectivity",
			Name:      "poller_evaluations_total",
			Help:      "Hotspot poller evaluations, scheduled and on-demand.",
		}),
		stateGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "papertrail",
			Subsystem: "connectivity",
			Name:      "state",
			Help:      "Current connectivity state (1 for the active state).",
		}, []string{"state"}),
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "papertrail",
			Subsystem: "connectivity",
			Name:      "attached_clients",
			Help:      "Number of attached UI clients.",
		}),
	}
}

// StateChanged records a transition and flips the state gauge.
func (m *Metrics) StateChanged(from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
	for _, s := range allStates {
		v := 0.0
		if s == to {
			v = 1.0
		}
		m.stateGauge.WithLabelValues(string(s)).Set(v)
	}
}

// AttemptFinished records a settled connection attempt.
func (m *Metrics) AttemptFinished(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// PollerEvaluated records one poller evaluation.
func (m *Metrics) PollerEvaluated() {
	if m == nil {
		return
	}
	m.pollerEvals.Inc()
}

// ClientsChanged records the attached UI client count.
func (m *Metrics) ClientsChanged(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}
