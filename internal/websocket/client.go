package websocket

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"notify-service/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	defaultSendQueueSize = 256
)

// Disconnect causes, used for logs and metrics.
const (
	reasonClosed     = "closed"
	reasonIdle       = "idle"
	reasonZombie     = "heartbeat_timeout"
	reasonWriteError = "write_error"
	reasonAdmin      = "admin"
	reasonShutdown   = "shutdown"
)

type outbound struct {
	data     []byte
	critical bool
}

type enqueueResult struct {
	dropped     int
	slowStarted bool
}

// Client is one live WebSocket connection. Membership maps are owned by the
// registry and only touched under the owning shard's lock.
type Client struct {
	id        string
	userID    string
	origin    string
	userAgent string
	createdAt time.Time

	hub    *Hub
	conn   *websocket.Conn
	logger zerolog.Logger

	lastActivity atomic.Int64

	channels map[string]struct{}
	rooms    map[string]struct{}

	qmu      sync.Mutex
	queue    []outbound
	queueCap int
	slow     bool
	notify   chan struct{}

	closed    atomic.Bool
	done      chan struct{}
	closeCode int
	closeText string
}

func newClient(hub *Hub, conn *websocket.Conn, userID, origin, userAgent string) *Client {
	now := hub.clock.Now()
	c := &Client{
		id:        uuid.New().String(),
		userID:    userID,
		origin:    origin,
		userAgent: userAgent,
		createdAt: now,
		hub:       hub,
		conn:      conn,
		channels:  make(map[string]struct{}),
		rooms:     make(map[string]struct{}),
		queueCap:  hub.opts.SendQueueSize,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if c.queueCap <= 0 {
		c.queueCap = defaultSendQueueSize
	}
	c.logger = hub.logger.With().Str("connID", c.id).Str("userID", userID).Logger()
	c.touch(now)
	return c
}

func (c *Client) ID() string           { return c.id }
func (c *Client) UserID() string       { return c.userID }
func (c *Client) Origin() string       { return c.origin }
func (c *Client) UserAgent() string    { return c.userAgent }
func (c *Client) CreatedAt() time.Time { return c.createdAt }

func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// Done is closed once the client has been shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) isClosed() bool { return c.closed.Load() }

// shutdown marks the client closed. Only the first caller gets true.
func (c *Client) shutdown(code int, text string) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	c.qmu.Lock()
	c.closeCode = code
	c.closeText = text
	c.qmu.Unlock()
	close(c.done)
	return true
}

// Close closes the connection with a close frame and deregisters it.
// Safe to call more than once and from any goroutine.
func (c *Client) Close(code int, text string) {
	c.hub.disconnect(c, code, text, reasonClosed)
}

// enqueue appends to the bounded outbound queue. When the queue is full the
// oldest non-critical entry is dropped, and the first drop of an episode
// queues a critical slow_consumer warning. The warning takes a queue slot like
// any other entry, so the queue never holds more than queueCap entries. The
// caller never blocks on I/O.
func (c *Client) enqueue(data []byte, critical bool) (enqueueResult, error) {
	var res enqueueResult
	if c.isClosed() {
		return res, ErrClientDisconnected
	}

	c.qmu.Lock()
	accept := true
	if len(c.queue) >= c.queueCap {
		switch {
		case c.dropOldestLocked():
			res.dropped++
		case !critical:
			// Everything queued is critical: the new message is the oldest
			// non-critical one.
			res.dropped++
			accept = false
		}
	}
	if res.dropped > 0 && !c.slow {
		c.slow = true
		res.slowStarted = true
		// A queue full of critical entries already carries a warning.
		if accept {
			if accept = c.makeRoomLocked(); !accept {
				res.dropped++
			}
			if warn, err := NewSlowConsumerMessage(res.dropped, c.queueCap).Encode(); err == nil {
				c.queue = append(c.queue, outbound{data: warn, critical: true})
			}
		}
	}
	if accept {
		c.queue = append(c.queue, outbound{data: data, critical: critical})
	}
	c.qmu.Unlock()

	c.signal()
	return res, nil
}

// makeRoomLocked frees a slot for the warning ahead of the incoming message.
// It reports whether the incoming message still fits.
func (c *Client) makeRoomLocked() bool {
	return len(c.queue)+2 <= c.queueCap || c.dropOldestLocked()
}

func (c *Client) dropOldestLocked() bool {
	for i, m := range c.queue {
		if m.critical {
			continue
		}
		copy(c.queue[i:], c.queue[i+1:])
		c.queue[len(c.queue)-1] = outbound{}
		c.queue = c.queue[:len(c.queue)-1]
		return true
	}
	return false
}

func (c *Client) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// takeBatch empties the queue. Draining ends a slow-consumer episode.
func (c *Client) takeBatch() []outbound {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	batch := c.queue
	c.queue = nil
	c.slow = false
	return batch
}

func (c *Client) queueLen() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.queue)
}

// Send queues an envelope for this connection.
func (c *Client) Send(env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return c.sendRaw(data, env.Type == MessageTypeSlowConsumer)
}

func (c *Client) sendRaw(data []byte, critical bool) error {
	res, err := c.enqueue(data, critical)
	if err != nil {
		return err
	}
	if res.dropped > 0 || res.slowStarted {
		c.hub.metrics.Dropped(res.dropped, res.slowStarted)
		if res.slowStarted {
			c.logger.Warn().Int("queueSize", c.queueCap).Msg("slow consumer, dropping oldest messages")
		}
	}
	return nil
}

func (c *Client) readPump() {
	defer func() {
		logger.RecoverPanic(c.logger, "readPump")
		c.hub.disconnect(c, websocket.CloseNormalClosure, "", reasonClosed)
	}()

	readTimeout := c.hub.heartbeat.Threshold() + writeWait
	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.hub.recordActivity(c)
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	c.conn.SetPingHandler(func(data string) error {
		c.hub.recordActivity(c)
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.hub.handleInbound(c, data)
	}
}

func (c *Client) writePump() {
	ticker := c.hub.clock.Ticker(c.hub.heartbeat.Interval())
	defer func() {
		ticker.Stop()
		logger.RecoverPanic(c.logger, "writePump")
		c.conn.Close()
	}()

	for {
		select {
		case <-c.notify:
			if err := c.flush(); err != nil {
				c.logger.Debug().Err(err).Msg("websocket write error")
				c.hub.disconnect(c, websocket.CloseAbnormalClosure, "", reasonWriteError)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.disconnect(c, websocket.CloseAbnormalClosure, "", reasonWriteError)
				return
			}

		case <-c.done:
			// Best effort: pending messages (a slow_consumer warning
			// included) go out before the close frame.
			_ = c.flush()
			c.qmu.Lock()
			code, text := c.closeCode, c.closeText
			c.qmu.Unlock()
			if code != websocket.CloseAbnormalClosure {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			}
			return
		}
	}
}

func (c *Client) flush() error {
	for _, m := range c.takeBatch() {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, m.data); err != nil {
			return err
		}
	}
	return nil
}
