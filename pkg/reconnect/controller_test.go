package reconnect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	base, ceiling := time.Second, 30*time.Second

	assert.Equal(t, 1*time.Second, Delay(1, base, ceiling, 0, 0))
	assert.Equal(t, 2*time.Second, Delay(2, base, ceiling, 0, 0))
	assert.Equal(t, 16*time.Second, Delay(5, base, ceiling, 0, 0))
	assert.Equal(t, 30*time.Second, Delay(6, base, ceiling, 0, 0))
	assert.Equal(t, 30*time.Second, Delay(50, base, ceiling, 0, 0))

	assert.Equal(t, 800*time.Millisecond, Delay(1, base, ceiling, 0.2, 0))
	assert.Equal(t, 1*time.Second, Delay(1, base, ceiling, 0.2, 0.5))
	for _, r := range []float64{0, 0.1, 0.5, 0.9, 0.999} {
		d := Delay(3, base, ceiling, 0.2, r)
		assert.GreaterOrEqual(t, d, 3200*time.Millisecond)
		assert.LessOrEqual(t, d, 4800*time.Millisecond)
	}
}

// fakeServer accepts sockets, greets each with connection_established like
// the real endpoint, records the frames each one receives and can drop every
// open socket.
type fakeServer struct {
	*httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames [][]frame // per accepted connection
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		idx := len(fs.conns)
		fs.conns = append(fs.conns, conn)
		fs.frames = append(fs.frames, nil)
		fs.mu.Unlock()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_established"}`)); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				fs.mu.Lock()
				fs.frames[idx] = append(fs.frames[idx], f)
				fs.mu.Unlock()
			}
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *fakeServer) accepted() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *fakeServer) framesOf(idx int) []frame {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if idx >= len(fs.frames) {
		return nil
	}
	return append([]frame(nil), fs.frames[idx]...)
}

func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		c.Close()
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-c.States():
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s, state is %s", want, c.State())
		}
	}
}

func TestControllerRestoresSubscriptionsAfterReconnect(t *testing.T) {
	fs := newFakeServer(t)
	c := New(Config{URL: fs.url(), Base: 10 * time.Millisecond, Jitter: 0})
	require.NoError(t, c.Subscribe("exec:123"), "subscribing before connecting only tracks the channel")

	c.Start(context.Background())
	defer c.Close()
	waitForState(t, c, StateConnected)

	require.NoError(t, c.JoinRoom("lobby"))
	require.Eventually(t, func() bool { return len(fs.framesOf(0)) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []frame{
		{Type: "subscribe", Channel: "exec:123"},
		{Type: "join_room", Channel: "lobby"},
	}, fs.framesOf(0))

	fs.dropAll()
	waitForState(t, c, StateReconnecting)
	waitForState(t, c, StateConnected)

	require.Eventually(t, func() bool { return len(fs.framesOf(1)) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []frame{
		{Type: "subscribe", Channel: "exec:123"},
		{Type: "join_room", Channel: "lobby"},
	}, fs.framesOf(1))
	assert.Equal(t, 2, fs.accepted())
	require.Eventually(t, func() bool { return c.Failures() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestControllerUnsubscribeStopsRestoring(t *testing.T) {
	fs := newFakeServer(t)
	c := New(Config{URL: fs.url(), Base: 10 * time.Millisecond})
	c.Start(context.Background())
	defer c.Close()
	waitForState(t, c, StateConnected)

	require.NoError(t, c.Subscribe("a"))
	require.NoError(t, c.Subscribe("b"))
	require.NoError(t, c.Unsubscribe("a"))
	require.NoError(t, c.Publish("b", json.RawMessage(`{"n":1}`)))
	require.Eventually(t, func() bool { return len(fs.framesOf(0)) == 4 }, 5*time.Second, 5*time.Millisecond)

	fs.dropAll()
	waitForState(t, c, StateConnected)
	require.Eventually(t, func() bool { return len(fs.framesOf(1)) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []frame{{Type: "subscribe", Channel: "b"}}, fs.framesOf(1))
}

func TestControllerFailsAfterMaxAttemptsAndRetries(t *testing.T) {
	fs := newFakeServer(t)
	target := fs.url()
	fs.Close() // nothing listens: every dial fails

	c := New(Config{URL: target, Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: 3})
	c.Start(context.Background())
	defer c.Close()

	waitForState(t, c, StateFailed)
	assert.Equal(t, 3, c.Failures())
	assert.ErrorIs(t, c.Publish("x", json.RawMessage(`1`)), ErrNotConnected)

	c.Retry()
	waitForState(t, c, StateConnecting)
	waitForState(t, c, StateFailed)
}

func TestControllerCloseDisconnects(t *testing.T) {
	fs := newFakeServer(t)
	c := New(Config{URL: fs.url()})
	c.Start(context.Background())
	waitForState(t, c, StateConnected)

	c.Close()
	assert.Equal(t, StateDisconnected, c.State())
}

// rejectingServer upgrades every request and immediately closes it with a
// policy-violation frame, the way the endpoint refuses a user over the
// connection limit.
func rejectingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit exceeded"),
			time.Now().Add(time.Second))
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv, &dials
}

func TestControllerCountsImmediateRejectionsAsFailures(t *testing.T) {
	srv, dials := rejectingServer(t)
	c := New(Config{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		Base:        20 * time.Millisecond,
		Cap:         50 * time.Millisecond,
		MaxAttempts: 3,
	})
	start := time.Now()
	c.Start(context.Background())
	defer c.Close()

	waitForState(t, c, StateFailed)
	assert.Equal(t, 3, c.Failures())
	assert.EqualValues(t, 3, dials.Load(), "one dial per attempt, no tight loop")
	// Two backoff waits of at least 0.8*20ms and 0.8*40ms separate the dials.
	assert.GreaterOrEqual(t, time.Since(start), 48*time.Millisecond)
}

func TestControllerSpreadsFirstReconnectAfterStableDrop(t *testing.T) {
	fs := newFakeServer(t)
	c := New(Config{
		URL:  fs.url(),
		Base: 200 * time.Millisecond,
		Rand: func() float64 { return 0.5 },
	})
	c.Start(context.Background())
	defer c.Close()
	waitForState(t, c, StateConnected)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.stable
	}, 5*time.Second, 5*time.Millisecond)

	dropped := time.Now()
	fs.dropAll()
	waitForState(t, c, StateReconnecting)
	require.Eventually(t, func() bool { return fs.accepted() == 2 }, 5*time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, time.Since(dropped), 100*time.Millisecond, "redial waits rand*base")
	assert.Zero(t, c.Failures(), "a drop after the session was established is not a failed attempt")
}
