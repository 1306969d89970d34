package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zombieRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *zombieRecorder) record(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *zombieRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newTestMonitor(clk *clock.Mock, rec *zombieRecorder) *Monitor {
	return NewMonitor(Config{
		Interval:    15 * time.Second,
		MissedBeats: 3,
		OnZombie:    rec.record,
		Clock:       clk,
		Logger:      zerolog.Nop(),
	})
}

func TestMonitorDefaults(t *testing.T) {
	m := NewMonitor(Config{Logger: zerolog.Nop()})
	assert.Equal(t, 15*time.Second, m.Interval())
	assert.Equal(t, 45*time.Second, m.Threshold())
}

func TestIsZombieAfterMissedBeats(t *testing.T) {
	clk := clock.NewMock()
	m := newTestMonitor(clk, &zombieRecorder{})
	m.Track("c1")

	assert.False(t, m.IsZombie("c1", clk.Now().Add(45*time.Second)))
	assert.True(t, m.IsZombie("c1", clk.Now().Add(46*time.Second)))
	assert.False(t, m.IsZombie("unknown", clk.Now().Add(time.Hour)))
}

func TestRecordActivityKeepsConnectionAlive(t *testing.T) {
	clk := clock.NewMock()
	rec := &zombieRecorder{}
	m := newTestMonitor(clk, rec)
	m.Track("c1")
	m.Track("c2")

	clk.Add(30 * time.Second)
	m.RecordActivity("c1")
	clk.Add(30 * time.Second)

	swept := m.Sweep()
	assert.Equal(t, []string{"c2"}, swept)
	assert.Equal(t, []string{"c2"}, rec.get())
	assert.Equal(t, 1, m.Len())

	// A second sweep does not report the same zombie again.
	assert.Empty(t, m.Sweep())
}

func TestRecordActivityIgnoresForgottenConnections(t *testing.T) {
	clk := clock.NewMock()
	m := newTestMonitor(clk, &zombieRecorder{})
	m.Track("c1")
	m.Forget("c1")

	m.RecordActivity("c1")
	assert.Equal(t, 0, m.Len())
}

func TestRunSweepsOnInterval(t *testing.T) {
	clk := clock.NewMock()
	rec := &zombieRecorder{}
	m := newTestMonitor(clk, rec)
	m.Track("c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// Let Run create its ticker before moving time.
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 4; i++ {
		clk.Add(15 * time.Second)
	}

	require.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "c1", rec.get()[0])

	cancel()
	<-done
}
