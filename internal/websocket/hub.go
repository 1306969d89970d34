package websocket

import (
	"context"
	"errors"
	"time"

	"notify-service/internal/buffer"
	"notify-service/internal/fanout"
	"notify-service/internal/heartbeat"
	"notify-service/internal/limits"
	"notify-service/internal/logger"
	"notify-service/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options are the hub's connection lifecycle settings. Zero values take the
// defaults noted on each field.
type Options struct {
	NodeID            string        // random uuid
	IdleTimeout       time.Duration // 30m
	HeartbeatInterval time.Duration // 15s
	MissedBeats       int           // 3
	MaxConnsPerUser   int           // 5
	MaxSubscriptions  int           // 100 per connection
	Shards            int           // 32
	SendQueueSize     int           // 256
	HandshakeTimeout  time.Duration // 10s
	MaxMessageBytes   int64         // 64 KiB
	PresenceTTL       time.Duration // 60s
	AllowedOrigins    []string      // empty or "*" allows all
}

func (o *Options) setDefaults() {
	if o.NodeID == "" {
		o.NodeID = uuid.New().String()
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if o.MissedBeats <= 0 {
		o.MissedBeats = heartbeat.DefaultMissedBeats
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 60 * time.Second
	}
}

// Authenticator verifies a handshake credential and returns the user id.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// Deps are the hub's collaborators. Transport and Presence may be nil for a
// single-instance deployment.
type Deps struct {
	Auth      Authenticator
	Transport fanout.Transport
	Presence  fanout.Presence
	Guard     *limits.Guard
	Handshake *limits.HandshakeLimiter
	Buffer    *buffer.Buffer
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Clock     clock.Clock
}

// Hub owns every connection on this instance.
type Hub struct {
	opts      Options
	auth      Authenticator
	registry  *Registry
	broker    *Broker
	guard     *limits.Guard
	handshake *limits.HandshakeLimiter
	heartbeat *heartbeat.Monitor
	buffer    *buffer.Buffer
	presence  fanout.Presence
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	clock     clock.Clock
	upgrader  websocket.Upgrader
}

func NewHub(opts Options, deps Deps) *Hub {
	opts.setDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Guard == nil {
		deps.Guard = limits.NewGuard(limits.GuardConfig{}, nil, deps.Clock)
	}
	if deps.Buffer == nil {
		deps.Buffer = buffer.New(buffer.Config{Clock: deps.Clock, Logger: deps.Logger})
	}

	h := &Hub{
		opts:      opts,
		auth:      deps.Auth,
		guard:     deps.Guard,
		handshake: deps.Handshake,
		buffer:    deps.Buffer,
		presence:  deps.Presence,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "hub").Str("node", opts.NodeID).Logger(),
		clock:     deps.Clock,
	}
	h.heartbeat = heartbeat.NewMonitor(heartbeat.Config{
		Interval:    opts.HeartbeatInterval,
		MissedBeats: opts.MissedBeats,
		OnZombie:    h.closeZombie,
		Clock:       deps.Clock,
		Logger:      deps.Logger,
	})
	h.registry = NewRegistry(RegistryConfig{
		Shards:           opts.Shards,
		MaxConnsPerUser:  opts.MaxConnsPerUser,
		MaxSubscriptions: opts.MaxSubscriptions,
		Buffer:           deps.Buffer,
		Clock:            deps.Clock,
	})
	h.broker = NewBroker(opts.NodeID, h.registry, deps.Transport, deps.Presence,
		deps.Guard.Breakers(), deps.Metrics, deps.Logger)
	h.upgrader = newUpgrader(opts)
	return h
}

func (h *Hub) NodeID() string                { return h.opts.NodeID }
func (h *Hub) Registry() *Registry           { return h.registry }
func (h *Hub) Broker() *Broker               { return h.broker }
func (h *Hub) Guard() *limits.Guard          { return h.guard }
func (h *Hub) Heartbeat() *heartbeat.Monitor { return h.heartbeat }
func (h *Hub) Buffer() *buffer.Buffer        { return h.buffer }

// Run starts the fan-out listener and the periodic sweeps. It blocks until
// ctx is cancelled, then closes every connection with a going-away frame.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.broker.Start(ctx); err != nil {
		return err
	}
	h.logger.Info().Msg("websocket hub started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { h.heartbeat.Run(gctx); return nil })
	g.Go(func() error { h.runPurge(gctx); return nil })
	g.Go(func() error {
		h.every(gctx, h.idleSweepInterval(), func() { h.EvictIdle() })
		return nil
	})
	g.Go(func() error {
		h.every(gctx, h.opts.PresenceTTL/3, func() { h.refreshPresence(gctx) })
		return nil
	})
	g.Go(func() error {
		h.every(gctx, time.Minute, func() { h.guard.Breakers().Prune() })
		return nil
	})
	err := g.Wait()

	h.Shutdown()
	if stopErr := h.broker.Stop(); stopErr != nil {
		h.logger.Warn().Err(stopErr).Msg("failed to stop fan-out subscription")
	}
	h.logger.Info().Msg("websocket hub shut down")
	return err
}

func (h *Hub) idleSweepInterval() time.Duration {
	if d := h.opts.IdleTimeout / 10; d < time.Minute {
		return d
	}
	return time.Minute
}

func (h *Hub) every(ctx context.Context, d time.Duration, fn func()) {
	ticker := h.clock.Ticker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			func() {
				defer logger.RecoverPanic(h.logger, "hub sweep")
				fn()
			}()
		case <-ctx.Done():
			return
		}
	}
}

// runPurge expires buffered messages and departed-user channel records on
// the buffer's sweep interval.
func (h *Hub) runPurge(ctx context.Context) {
	h.every(ctx, h.buffer.SweepEvery(), h.purgeExpired)
}

func (h *Hub) purgeExpired() {
	h.metrics.Buffer("expired", h.buffer.PurgeExpired())
	if n := h.registry.PurgeDeparted(); n > 0 {
		h.logger.Debug().Int("count", n).Msg("forgot departed channel subscribers")
	}
}

// Shutdown closes every local connection.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.All() {
		h.disconnect(c, websocket.CloseGoingAway, "server shutting down", reasonShutdown)
	}
}

// EvictIdle closes connections with no inbound traffic for longer than the
// idle timeout and returns how many were closed.
func (h *Hub) EvictIdle() int {
	idle := h.registry.EvictIdleOlderThan(h.opts.IdleTimeout, h.clock.Now())
	for _, c := range idle {
		h.disconnect(c, websocket.CloseGoingAway, "idle timeout", reasonIdle)
	}
	if len(idle) > 0 {
		h.logger.Info().Int("count", len(idle)).Msg("evicted idle connections")
	}
	return len(idle)
}

func (h *Hub) closeZombie(connID string) {
	if c, ok := h.registry.Get(connID); ok {
		h.disconnect(c, websocket.CloseGoingAway, "heartbeat timeout", reasonZombie)
	}
}

// DisconnectUser closes every local connection of userID.
func (h *Hub) DisconnectUser(userID string) int {
	conns := h.registry.ConnectionsForUser(userID)
	for _, c := range conns {
		h.disconnect(c, websocket.ClosePolicyViolation, "disconnected by administrator", reasonAdmin)
	}
	return len(conns)
}

func (h *Hub) refreshPresence(ctx context.Context) {
	if h.presence == nil {
		return
	}
	for _, userID := range h.registry.Users() {
		if err := h.presence.MarkOnline(ctx, userID, h.opts.NodeID, h.opts.PresenceTTL); err != nil {
			h.logger.Warn().Err(err).Msg("presence refresh failed")
			return
		}
	}
}

func (h *Hub) recordActivity(c *Client) {
	c.touch(h.clock.Now())
	h.heartbeat.RecordActivity(c.id)
}

// register adds c to the registry and starts tracking it.
func (h *Hub) register(ctx context.Context, c *Client) error {
	drained, err := h.registry.Register(c)
	if err != nil {
		return err
	}
	h.heartbeat.Track(c.id)
	h.metrics.Connected()
	h.metrics.Buffer("drained", drained)

	if h.presence != nil {
		if err := h.presence.MarkOnline(ctx, c.userID, h.opts.NodeID, h.opts.PresenceTTL); err != nil {
			h.logger.Warn().Err(err).Str("userID", c.userID).Msg("failed to mark user online")
		}
	}
	c.logger.Info().Str("origin", c.origin).Int("drained", drained).Msg("client registered")
	return nil
}

// disconnect is the single close path. Only the first call for a client
// deregisters it; later calls are no-ops.
func (h *Hub) disconnect(c *Client, code int, text, reason string) {
	if !c.shutdown(code, text) {
		return
	}
	h.heartbeat.Forget(c.id)

	d, ok := h.registry.Deregister(c.id)
	if !ok {
		// Never registered, e.g. rejected by the connection limit.
		return
	}
	h.metrics.Disconnected(reason)
	c.logger.Info().Str("reason", reason).Msg("client disconnected")

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if d.LastForUser && h.presence != nil {
		if err := h.presence.MarkOffline(ctx, c.userID, h.opts.NodeID); err != nil {
			h.logger.Warn().Err(err).Str("userID", c.userID).Msg("failed to mark user offline")
		}
	}
	for _, room := range d.RoomsVacated {
		h.broker.roomVacated(ctx, room, c.userID)
	}
}

// handleInbound runs for every client frame, on the client's read goroutine.
func (h *Hub) handleInbound(c *Client, data []byte) {
	h.recordActivity(c)

	verdict := h.guard.Allow(c.userID, c.origin)
	if !verdict.Allowed {
		for _, d := range verdict.Denials {
			h.metrics.Denied(string(d.Scope), d.Reason)
		}
		h.guard.Record(c.userID, c.origin, verdict.Err())
		c.Send(NewEnvelope(MessageTypeRateLimitExceeded, "", verdict))
		return
	}

	msg, err := ParseInbound(data)
	if err != nil {
		h.metrics.Inbound("invalid")
		h.guard.Record(c.userID, c.origin, err)
		c.Send(NewErrorMessage(CodeInvalidMessage, err.Error(), ""))
		return
	}
	h.metrics.Inbound(msg.Type().String())

	err = h.dispatch(c, msg)
	h.guard.Record(c.userID, c.origin, err)
	if err != nil {
		c.Send(NewErrorMessage(errorCode(err), err.Error(), msg.ReqID()))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrTooManySubscriptions):
		return CodeLimitExceeded
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	default:
		return CodeInternal
	}
}

func (h *Hub) dispatch(c *Client, msg InboundMessage) error {
	ctx := context.Background()

	switch m := msg.(type) {
	case PingRequest:
		return c.Send(NewPongMessage(m.RequestID))

	case SubscribeRequest:
		if err := h.checkSubscribe(c, m.Channel); err != nil {
			return err
		}
		if _, err := h.broker.Subscribe(c.id, m.Channel); err != nil {
			return err
		}
		return c.Send(NewAckMessage(m.Channel, ActionSubscribed, m.RequestID, nil))

	case UnsubscribeRequest:
		h.broker.Unsubscribe(c.id, m.Channel)
		return c.Send(NewAckMessage(m.Channel, ActionUnsubscribed, m.RequestID, nil))

	case PublishRequest:
		if _, ok := isUserChannel(m.Channel); ok {
			return ErrForbidden
		}
		env := NewEnvelope(MessageTypeChannelMessage, m.Channel, m.Payload)
		env.Sender = c.userID
		env.RequestID = m.RequestID
		if room, ok := isRoomChannel(m.Channel); ok {
			if err := ValidateName(room); err != nil {
				return err
			}
			env.Type = MessageTypeRoomMessage
			h.broker.PublishToRoom(ctx, room, env, c.id)
			return nil
		}
		_, err := h.broker.Publish(ctx, m.Channel, env)
		return err

	case JoinRoomRequest:
		members, err := h.broker.JoinRoom(ctx, c.id, m.Room)
		if err != nil {
			return err
		}
		return c.Send(NewAckMessage(m.Room, ActionJoined, m.RequestID, members))

	case LeaveRoomRequest:
		if err := h.broker.LeaveRoom(ctx, c.id, m.Room); err != nil {
			return err
		}
		return c.Send(NewAckMessage(m.Room, ActionLeft, m.RequestID, nil))
	}
	return ErrInvalidMessage
}

// checkSubscribe enforces that private user channels are only readable by
// their owner.
func (h *Hub) checkSubscribe(c *Client, channel string) error {
	if owner, ok := isUserChannel(channel); ok && owner != c.userID {
		return ErrForbidden
	}
	if _, ok := isRoomChannel(channel); ok {
		return ErrForbidden
	}
	return nil
}
