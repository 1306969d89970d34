package websocket

import (
	"time"

	"notify-service/internal/limits"
)

// HealthStatus is the hub's self-reported health.
type HealthStatus struct {
	Status            string                 `json:"status"` // "healthy", "degraded", or "unhealthy"
	NodeID            string                 `json:"nodeId"`
	ActiveConnections int                    `json:"activeConnections"`
	ActiveUsers       int                    `json:"activeUsers"`
	BufferedUsers     int                    `json:"bufferedUsers"`
	BufferedMessages  int                    `json:"bufferedMessages"`
	CheckedAt         time.Time              `json:"checkedAt"`
	Details           map[string]interface{} `json:"details"`
}

// Health reports degraded while the fan-out breaker is not closed, since
// publishes then only reach this instance's connections.
func (h *Hub) Health() HealthStatus {
	users, entries := h.buffer.Stats()
	fanout := h.guard.Breakers().Get(fanoutBreakerScope).State()

	status := "healthy"
	if fanout != limits.StateClosed {
		status = "degraded"
	}

	return HealthStatus{
		Status:            status,
		NodeID:            h.opts.NodeID,
		ActiveConnections: h.registry.Count(),
		ActiveUsers:       len(h.registry.Users()),
		BufferedUsers:     users,
		BufferedMessages:  entries,
		CheckedAt:         h.clock.Now().UTC(),
		Details: map[string]interface{}{
			"fanoutBreaker":     fanout.String(),
			"trackedHeartbeats": h.heartbeat.Len(),
			"openBreakers":      openBreakers(h.guard.Breakers().Snapshot()),
		},
	}
}

func openBreakers(stats []limits.BreakerStats) []string {
	out := []string{}
	for _, s := range stats {
		if s.State != limits.StateClosed.String() {
			out = append(out, s.Scope)
		}
	}
	return out
}
