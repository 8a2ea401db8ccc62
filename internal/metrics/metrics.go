package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auction_relay"

// RelayMetrics groups the relay's collectors. A nil *RelayMetrics is valid
// and records nothing.
type RelayMetrics struct {
	Connections    prometheus.Gauge
	Rooms          prometheus.Gauge
	Joins          *prometheus.CounterVec
	Signals        *prometheus.CounterVec
	BackboneErrors *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Connections currently held by this instance.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member in this instance's view.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by outcome.",
		}, []string{"outcome"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Directed messages by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BackboneErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backbone_errors_total",
			Help:      "Failed backbone operations.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Rooms, m.Joins, m.Signals, m.BackboneErrors)
	}
	return m
}

func (m *RelayMetrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(n))
}

func (m *RelayMetrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(n))
}

func (m *RelayMetrics) Join(outcome string) {
	if m == nil {
		return
	}
	m.Joins.WithLabelValues(outcome).Inc()
}

func (m *RelayMetrics) Signal(kind, outcome string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(kind, outcome).Inc()
}

func (m *RelayMetrics) BackboneError(op string) {
	if m == nil {
		return
	}
	m.BackboneErrors.WithLabelValues(op).Inc()
}
