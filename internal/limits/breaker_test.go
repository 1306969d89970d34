package limits

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(clk *clock.Mock) *Breaker {
	return NewBreaker("user:1", BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		Cooldown:         10 * time.Second,
	}, clk)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clk := clock.NewMock()
	b := newTestBreaker(clk)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	}
	assert.Equal(t, clk.Now().Add(10*time.Second), b.RetryAt())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := newTestBreaker(clock.NewMock())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailuresOutsideWindowRestartCount(t *testing.T) {
	clk := clock.NewMock()
	b := newTestBreaker(clk)

	b.RecordFailure()
	b.RecordFailure()
	clk.Add(2 * time.Minute)
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAdmitsExactlyOneCall(t *testing.T) {
	clk := clock.NewMock()
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clk.Add(9 * time.Second)
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clk.Add(time.Second)
	require.NoError(t, b.Allow(), "first call after cooldown is the trial call")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	clk := clock.NewMock()
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Add(10 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clk.Add(10 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerReleaseReturnsTrialSlot(t *testing.T) {
	clk := clock.NewMock()
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Add(10 * time.Second)
	require.NoError(t, b.Allow())
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.Release()
	assert.NoError(t, b.Allow())
}

func TestBreakerConcurrentTrial(t *testing.T) {
	clk := clock.NewMock()
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Add(10 * time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	clk := clock.NewMock()
	var transitions []string
	b := NewBreaker("fanout", BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		OnStateChange: func(scope string, from, to State) {
			transitions = append(transitions, scope+":"+from.String()+"->"+to.String())
		},
	}, clk)

	b.RecordFailure()
	clk.Add(time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, []string{
		"fanout:closed->open",
		"fanout:open->half_open",
		"fanout:half_open->closed",
	}, transitions)
}

func TestBreakersRegistry(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1}, clock.NewMock())

	assert.Same(t, r.Get("user:1"), r.Get("user:1"))
	assert.ErrorIs(t, r.Reset("user:404"), ErrUnknownScope)

	r.RecordFailure("user:1")
	r.Get("user:2")
	assert.Equal(t, StateOpen, r.Get("user:1").State())

	assert.Equal(t, 1, r.Prune(), "only the idle closed breaker is pruned")

	stats := r.Snapshot()
	require.Len(t, stats, 1)
	assert.Equal(t, "user:1", stats[0].Scope)
	assert.Equal(t, "open", stats[0].State)

	require.NoError(t, r.Reset("user:1"))
	assert.Equal(t, StateClosed, r.Get("user:1").State())
}
