// Package heartbeat detects transport-level zombie connections: sockets that
// look open but have stopped answering pings.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval    = 15 * time.Second
	DefaultMissedBeats = 3
)

// Config configures a Monitor.
type Config struct {
	// Interval is how often pings are expected and Sweep runs.
	Interval time.Duration

	// MissedBeats is how many intervals may pass without activity before a
	// connection is declared a zombie.
	MissedBeats int

	// OnZombie is called once per zombie found by Sweep, outside the lock.
	OnZombie func(connID string)

	Clock  clock.Clock
	Logger zerolog.Logger
}

// Monitor tracks the last activity time of every live connection.
type Monitor struct {
	interval  time.Duration
	threshold time.Duration
	onZombie  func(string)
	clock     clock.Clock
	logger    zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MissedBeats <= 0 {
		cfg.MissedBeats = DefaultMissedBeats
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Monitor{
		interval:  cfg.Interval,
		threshold: cfg.Interval * time.Duration(cfg.MissedBeats),
		onZombie:  cfg.OnZombie,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With().Str("component", "heartbeat").Logger(),
		lastSeen:  make(map[string]time.Time),
	}
}

// Interval returns the ping interval.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Threshold returns the silence after which a connection is a zombie.
func (m *Monitor) Threshold() time.Duration { return m.threshold }

// Track starts monitoring a connection, counting now as its first activity.
func (m *Monitor) Track(connID string) {
	m.mu.Lock()
	m.lastSeen[connID] = m.clock.Now()
	m.mu.Unlock()
}

// Forget stops monitoring a connection.
func (m *Monitor) Forget(connID string) {
	m.mu.Lock()
	delete(m.lastSeen, connID)
	m.mu.Unlock()
}

// RecordActivity marks connID as alive. Unknown connections are ignored so a
// late pong cannot resurrect a connection that was already swept.
func (m *Monitor) RecordActivity(connID string) {
	now := m.clock.Now()
	m.mu.Lock()
	if _, ok := m.lastSeen[connID]; ok {
		m.lastSeen[connID] = now
	}
	m.mu.Unlock()
}

// IsZombie reports whether connID has been silent for longer than the
// threshold at now. Untracked connections are never zombies.
func (m *Monitor) IsZombie(connID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.lastSeen[connID]
	return ok && now.Sub(last) > m.threshold
}

// Len returns the number of tracked connections.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lastSeen)
}

// Sweep removes every zombie from tracking and reports it through OnZombie.
func (m *Monitor) Sweep() []string {
	now := m.clock.Now()

	m.mu.Lock()
	var zombies []string
	for connID, last := range m.lastSeen {
		if now.Sub(last) > m.threshold {
			zombies = append(zombies, connID)
			delete(m.lastSeen, connID)
		}
	}
	m.mu.Unlock()

	for _, connID := range zombies {
		m.logger.Info().Str("connID", connID).Dur("threshold", m.threshold).Msg("zombie connection detected")
		if m.onZombie != nil {
			m.onZombie(connID)
		}
	}
	return zombies
}

// Run sweeps on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
