package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the signing service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	pending       prometheus.Gauge
	reconnects    *prometheus.CounterVec
	adoptionSwaps prometheus.Counter
	dropped       *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nip46",
			Name:      "requests_total",
			Help:      "Requests sent to remote signers by method and outcome.",
		}, []string{"method", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nip46",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nip46",
			Name:      "reconnect_attempts_total",
			Help:      "Background reconnection attempts by outcome.",
		}, []string{"outcome"}),
		adoptionSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nip46",
			Name:      "adoption_swaps_total",
			Help:      "Changes of the adopted signer.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nip46",
			Name:      "dropped_envelopes_total",
			Help:      "Inbound envelopes dropped by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.requests, m.pending, m.reconnects, m.adoptionSwaps, m.dropped)
	return m
}

func (m *Metrics) observeRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) pendingDelta(d float64) {
	if m == nil {
		return
	}
	m.pending.Add(d)
}

func (m *Metrics) observeReconnect(outcome string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeAdoption() {
	if m == nil {
		return
	}
	m.adoptionSwaps.Inc()
}

func (m *Metrics) observeDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
