package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	Disconnects         *prometheus.CounterVec
	InboundMessages     *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
	QueueDrops          prometheus.Counter
	SlowConsumers       prometheus.Counter
	BufferEvents        *prometheus.CounterVec
	RateLimitDenials    *prometheus.CounterVec
	BreakerTransitions  *prometheus.CounterVec
	FanoutErrors        prometheus.Counter
	EventsConsumed      *prometheus.CounterVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "notify_ws_connections_active",
			Help: "Current number of registered WebSocket connections",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_ws_connections_total",
			Help: "Total number of registered WebSocket connections",
		}),
		ConnectionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_ws_connections_rejected_total",
			Help: "Connection attempts rejected before registration",
		}, []string{"reason"}),
		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_ws_disconnects_total",
			Help: "Connections closed, by cause",
		}, []string{"reason"}),
		InboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_ws_inbound_messages_total",
			Help: "Client frames received, by envelope type",
		}, []string{"type"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Envelopes queued to local connections, by target kind",
		}, []string{"kind"}),
		QueueDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_ws_queue_drops_total",
			Help: "Outbound messages dropped from full connection queues",
		}),
		SlowConsumers: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_ws_slow_consumer_episodes_total",
			Help: "Slow consumer episodes started",
		}),
		BufferEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_buffer_events_total",
			Help: "Offline buffer activity, by outcome",
		}, []string{"outcome"}),
		RateLimitDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_rate_limit_denials_total",
			Help: "Requests denied, by scope and reason",
		}, []string{"scope", "reason"}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_breaker_transitions_total",
			Help: "Circuit breaker state changes, by scope kind and target state",
		}, []string{"scope", "state"}),
		FanoutErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_fanout_errors_total",
			Help: "Failed or skipped publishes to the fan-out transport",
		}),
		EventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_events_consumed_total",
			Help: "Ingress events consumed, by type and outcome",
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) Disconnected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Inbound(msgType string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Delivered(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Deliveries.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Dropped(n int, slowEpisode bool) {
	if m == nil {
		return
	}
	if n > 0 {
		m.QueueDrops.Add(float64(n))
	}
	if slowEpisode {
		m.SlowConsumers.Inc()
	}
}

func (m *Metrics) Buffer(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BufferEvents.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) Denied(scope, reason string) {
	if m == nil {
		return
	}
	m.RateLimitDenials.WithLabelValues(scope, reason).Inc()
}

// BreakerTransition labels by scope kind ("user", "origin", "global",
// "fanout") rather than the full key to bound cardinality.
func (m *Metrics) BreakerTransition(scope, state string) {
	if m == nil {
		return
	}
	kind, _, _ := strings.Cut(scope, ":")
	m.BreakerTransitions.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) FanoutError() {
	if m == nil {
		return
	}
	m.FanoutErrors.Inc()
}

func (m *Metrics) EventConsumed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(eventType, outcome).Inc()
}
