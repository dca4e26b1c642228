// Package observe holds the Prometheus collectors for the relay and for
// session coordinators. All methods are nil-safe so callers that do not
// care about metrics can pass nil.
package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice"

// RelayMetrics covers the signaling relay.
type RelayMetrics struct {
	Participants prometheus.Gauge
	Rooms        prometheus.Gauge
	Forwarded    *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
}

// NewRelayMetrics registers relay collectors on reg.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	f := promauto.With(reg)
	return &RelayMetrics{
		Participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "participants",
			Help: "Participants currently joined to a room.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rooms",
			Help: "Rooms with at least one participant.",
		}),
		Forwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "forwarded_total",
			Help: "Signaling messages forwarded, by type.",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "dropped_total",
			Help: "Signaling messages not delivered, by reason.",
		}, []string{"reason"}),
	}
}

func (m *RelayMetrics) Joined() {
	if m == nil {
		return
	}
	m.Participants.Inc()
}

func (m *RelayMetrics) Left() {
	if m == nil {
		return
	}
	m.Participants.Dec()
}

func (m *RelayMetrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(n))
}

func (m *RelayMetrics) Forward(typ string) {
	if m == nil {
		return
	}
	m.Forwarded.WithLabelValues(typ).Inc()
}

func (m *RelayMetrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// SessionMetrics covers session coordinators in this process.
type SessionMetrics struct {
	Links               prometheus.Gauge
	NegotiationFailures prometheus.Counter
	StaleMessages       *prometheus.CounterVec
	Joins               *prometheus.CounterVec
}

// NewSessionMetrics registers coordinator collectors on reg.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	f := promauto.With(reg)
	return &SessionMetrics{
		Links: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "peer_links",
			Help: "Live peer links across all sessions.",
		}),
		NegotiationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "negotiation_failures_total",
			Help: "Peer links that failed to establish connectivity.",
		}),
		StaleMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "stale_messages_total",
			Help: "Signaling messages ignored because their link was gone or had moved on.",
		}, []string{"type"}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "joins_total",
			Help: "Join attempts, by result.",
		}, []string{"result"}),
	}
}

func (m *SessionMetrics) LinkOpened() {
	if m == nil {
		return
	}
	m.Links.Inc()
}

func (m *SessionMetrics) LinkClosed() {
	if m == nil {
		return
	}
	m.Links.Dec()
}

func (m *SessionMetrics) NegotiationFailed() {
	if m == nil {
		return
	}
	m.NegotiationFailures.Inc()
}

func (m *SessionMetrics) Stale(typ string) {
	if m == nil {
		return
	}
	m.StaleMessages.WithLabelValues(typ).Inc()
}

func (m *SessionMetrics) Join(result string) {
	if m == nil {
		return
	}
	m.Joins.WithLabelValues(result).Inc()
}
