// Package reconnect is the client side of the notification socket: a
// reconnecting WebSocket connection that restores its channel subscriptions
// and room memberships after every reconnect. The server drains buffered
// messages on registration, so nothing else is needed to catch up.
package reconnect

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("not connected")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer

	Base        time.Duration // 1s
	Cap         time.Duration // 30s
	Jitter      float64       // 0.2, fraction of the delay
	MaxAttempts int           // 5 consecutive failures before FAILED
	DialTimeout time.Duration // 10s
	// StableAfter is how long a connection must stay up, without the server's
	// connection_established frame, before it stops counting as a failed
	// attempt. 5s.
	StableAfter time.Duration

	// OnMessage receives every text frame, on the connection's read goroutine.
	OnMessage func(data []byte)

	Clock  clock.Clock
	Rand   func() float64 // [0,1), for jitter
	Logger zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.Cap <= 0 {
		c.Cap = 30 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.StableAfter <= 0 {
		c.StableAfter = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
}

// Delay returns the wait after the n-th consecutive failure:
// min(base*2^(n-1), cap), spread by ±jitter. r is a sample in [0,1).
func Delay(n int, base, ceiling time.Duration, jitter, r float64) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(base) * math.Pow(2, float64(n-1))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}
	d *= 1 + jitter*(2*r-1)
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

type event int

const (
	eventDropped event = iota
	eventEstablished
	eventRetry
)

type loopEvent struct {
	kind event
	conn *websocket.Conn
}

// Controller owns one logical connection. A single goroutine drives every
// state transition from one timer and an event channel.
type Controller struct {
	cfg    Config
	logger zerolog.Logger

	events chan loopEvent
	states chan State

	mu       sync.Mutex
	state    State
	failures int
	stable   bool // the current connection was accepted by the server
	conn     *websocket.Conn
	channels map[string]struct{}
	rooms    map[string]struct{}

	wmu sync.Mutex // serializes writes on conn

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Controller {
	cfg.setDefaults()
	return &Controller{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "reconnect").Logger(),
		events:   make(chan loopEvent, 8),
		states:   make(chan State, 16),
		channels: make(map[string]struct{}),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// States publishes every transition. Intermediate states may be dropped if
// the reader falls behind; FAILED is always delivered.
func (c *Controller) States() <-chan State { return c.states }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failures is the number of consecutive failed attempts.
func (c *Controller) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Start begins connecting. It returns immediately.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Close stops the controller and closes the connection.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Retry leaves FAILED and starts a fresh attempt cycle.
func (c *Controller) Retry() {
	select {
	case c.events <- loopEvent{kind: eventRetry}:
	case <-c.done:
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	timer := c.cfg.Clock.Timer(0)
	defer timer.Stop()
	c.setState(ctx, StateConnecting)

	for {
		select {
		case <-ctx.Done():
			c.dropConn()
			c.setState(context.Background(), StateDisconnected)
			return

		case <-timer.C:
			switch c.State() {
			case StateConnected:
				// Up for StableAfter: the server kept us.
				c.markStable()
				continue
			case StateReconnecting:
				c.setState(ctx, StateConnecting)
			}
			if err := c.connect(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.logger.Debug().Err(err).Msg("connect failed")
				c.fail(ctx, timer)
				continue
			}
			timer.Reset(c.cfg.StableAfter)

		case ev := <-c.events:
			switch ev.kind {
			case eventEstablished:
				c.mu.Lock()
				current := c.conn == ev.conn
				c.mu.Unlock()
				if current {
					c.markStable()
				}

			case eventDropped:
				c.mu.Lock()
				current := c.conn == ev.conn
				stable := c.stable
				if current {
					c.conn = nil
					c.stable = false
				}
				c.mu.Unlock()
				if !current {
					continue
				}
				ev.conn.Close()
				if !stable {
					// Closed before the server accepted the session, e.g. a
					// connection-limit rejection: a failed attempt.
					c.logger.Debug().Msg("connection closed before it was established")
					c.fail(ctx, timer)
					continue
				}
				c.logger.Info().Msg("connection lost, reconnecting")
				c.setState(ctx, StateReconnecting)
				// Spread reconnects of many clients over [0, base).
				timer.Reset(time.Duration(c.cfg.Rand() * float64(c.cfg.Base)))

			case eventRetry:
				if c.State() != StateFailed {
					continue
				}
				c.mu.Lock()
				c.failures = 0
				c.mu.Unlock()
				c.setState(ctx, StateConnecting)
				timer.Reset(0)
			}
		}
	}
}

// fail counts a failed attempt and either schedules the next one or gives up.
func (c *Controller) fail(ctx context.Context, timer *clock.Timer) {
	c.mu.Lock()
	c.failures++
	n := c.failures
	c.mu.Unlock()

	if n >= c.cfg.MaxAttempts {
		c.logger.Warn().Int("failures", n).Msg("giving up reconnecting")
		c.setState(ctx, StateFailed)
		return
	}
	c.setState(ctx, StateReconnecting)
	timer.Reset(Delay(n, c.cfg.Base, c.cfg.Cap, c.cfg.Jitter, c.cfg.Rand()))
}

func (c *Controller) markStable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.stable = true
		c.failures = 0
	}
}

func (c *Controller) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.stable = false
	channels, rooms := sortedKeys(c.channels), sortedKeys(c.rooms)
	c.mu.Unlock()

	go c.readLoop(conn)
	c.setState(ctx, StateConnected)

	for _, ch := range channels {
		c.writeFrame(conn, frame{Type: "subscribe", Channel: ch})
	}
	for _, room := range rooms {
		c.writeFrame(conn, frame{Type: "join_room", Channel: room})
	}
	return nil
}

func (c *Controller) readLoop(conn *websocket.Conn) {
	established := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case c.events <- loopEvent{kind: eventDropped, conn: conn}:
			case <-c.done:
			}
			return
		}
		if !established && frameType(data) == "connection_established" {
			established = true
			select {
			case c.events <- loopEvent{kind: eventEstablished, conn: conn}:
			case <-c.done:
				return
			}
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(data)
		}
	}
}

func (c *Controller) dropConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.wmu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	conn.Close()
}

func (c *Controller) setState(ctx context.Context, s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if s == StateFailed {
		select {
		case c.states <- s:
		case <-ctx.Done():
		}
		return
	}
	select {
	case c.states <- s:
	default:
	}
}

type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func frameType(data []byte) string {
	var f struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &f) != nil {
		return ""
	}
	return f.Type
}

func (c *Controller) writeFrame(conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Controller) send(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeFrame(conn, f)
}

// Subscribe tracks channel and subscribes now if connected. A tracked channel
// is re-subscribed on every reconnect.
func (c *Controller) Subscribe(channel string) error {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
	return ignoreNotConnected(c.send(frame{Type: "subscribe", Channel: channel}))
}

func (c *Controller) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
	return ignoreNotConnected(c.send(frame{Type: "unsubscribe", Channel: channel}))
}

func (c *Controller) JoinRoom(room string) error {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	return ignoreNotConnected(c.send(frame{Type: "join_room", Channel: room}))
}

func (c *Controller) LeaveRoom(room string) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return ignoreNotConnected(c.send(frame{Type: "leave_room", Channel: room}))
}

// Publish sends a message on channel. It fails while disconnected.
func (c *Controller) Publish(channel string, payload json.RawMessage) error {
	return c.send(frame{Type: "publish", Channel: channel, Payload: payload})
}

func ignoreNotConnected(err error) error {
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
