package limits

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsExactlyBudgetPerWindow(t *testing.T) {
	clk := clock.NewMock()
	l := NewLimiter(WindowConfig{Limit: 5, Window: time.Second}, 10, clk)

	for i := 0; i < 5; i++ {
		d := l.Allow("user:1")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d := l.Allow("user:1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, clk.Now().Add(time.Second), d.ResetAt)

	clk.Add(999 * time.Millisecond)
	assert.False(t, l.Allow("user:1").Allowed, "still inside the window")

	clk.Add(time.Millisecond)
	d = l.Allow("user:1")
	assert.True(t, d.Allowed, "budget resets on rollover")
	assert.Equal(t, 4, d.Remaining)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(WindowConfig{Limit: 1, Window: time.Minute}, 10, clock.NewMock())

	assert.True(t, l.Allow("a").Allowed)
	assert.False(t, l.Allow("a").Allowed)
	assert.True(t, l.Allow("b").Allowed)
}

func TestLimiterPeekDoesNotConsume(t *testing.T) {
	l := NewLimiter(WindowConfig{Limit: 2, Window: time.Minute}, 10, clock.NewMock())

	for i := 0; i < 3; i++ {
		d := l.Peek("k")
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Remaining)
	}
	assert.Equal(t, 0, l.Len())

	assert.True(t, l.Allow("k").Allowed)
	assert.True(t, l.Allow("k").Allowed)
	assert.False(t, l.Peek("k").Allowed)
}

func TestLimiterRefund(t *testing.T) {
	l := NewLimiter(WindowConfig{Limit: 1, Window: time.Minute}, 10, clock.NewMock())

	require.True(t, l.Allow("k").Allowed)
	require.False(t, l.Allow("k").Allowed)

	l.Refund("k")
	assert.True(t, l.Allow("k").Allowed)
}

func TestLimiterZeroLimitIsUnlimited(t *testing.T) {
	l := NewLimiter(WindowConfig{}, 10, clock.NewMock())
	for i := 0; i < 1000; i++ {
		require.True(t, l.Allow("k").Allowed)
	}
}
