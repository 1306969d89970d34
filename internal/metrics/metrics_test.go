package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Connected()
		m.Disconnected("closed")
		m.Delivered("channel", 3)
		m.BreakerTransition("user:1", "open")
	})
}

func TestConnectionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Connected()
	m.Connected()
	m.Disconnected("idle")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues("idle")))
}

func TestBreakerTransitionUsesScopeKind(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BreakerTransition("user:42", "open")
	m.BreakerTransition("user:7", "open")
	m.BreakerTransition("fanout", "open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("user", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("fanout", "open")))
}
