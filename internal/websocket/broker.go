package websocket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notify-service/internal/fanout"
	"notify-service/internal/limits"
	"notify-service/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	// UserChannelPrefix names the private channel every connection is
	// subscribed to on connect.
	UserChannelPrefix = "user:"
	// RoomChannelPrefix routes a client publish to a room.
	RoomChannelPrefix = "room:"

	fanoutBreakerScope = "fanout"
	presenceTimeout    = 2 * time.Second
)

// UserChannel returns the private channel name for userID.
func UserChannel(userID string) string { return UserChannelPrefix + userID }

// DeliveryStatus is the outcome of a direct message.
type DeliveryStatus string

const (
	// DeliveredLocal: at least one connection on this instance got it.
	DeliveredLocal DeliveryStatus = "delivered"
	// DeliveredRemote: no local connection, but presence shows the user
	// connected to another instance, which receives it over the transport.
	DeliveredRemote DeliveryStatus = "remote"
	// DeliveryDeferred: the user is absent and the payload was buffered.
	DeliveryDeferred DeliveryStatus = "deferred"
)

// Delivery reports what DirectMessage did.
type Delivery struct {
	Status  DeliveryStatus
	Local   int
	Evicted int
}

// Broker implements channel, room and direct delivery on top of the local
// registry and the cross-instance transport.
type Broker struct {
	nodeID    string
	registry  *Registry
	transport fanout.Transport
	presence  fanout.Presence
	breakers  *limits.Breakers
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	stop func() error
}

func NewBroker(nodeID string, registry *Registry, transport fanout.Transport, presence fanout.Presence,
	breakers *limits.Breakers, m *metrics.Metrics, logger zerolog.Logger) *Broker {
	return &Broker{
		nodeID:    nodeID,
		registry:  registry,
		transport: transport,
		presence:  presence,
		breakers:  breakers,
		metrics:   m,
		logger:    logger.With().Str("component", "broker").Logger(),
	}
}

// Start subscribes to the transport. Frames published by this node are
// ignored on receipt.
func (b *Broker) Start(ctx context.Context) error {
	if b.transport == nil {
		return nil
	}
	stop, err := b.transport.Subscribe(ctx, fanout.TopicPattern, b.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe to fan-out transport: %w", err)
	}
	b.stop = stop
	return nil
}

func (b *Broker) Stop() error {
	if b.stop == nil {
		return nil
	}
	return b.stop()
}

// Publish queues env to every local subscriber of channel and forwards it to
// other instances. A transport failure is logged and leaves local delivery
// intact. It returns the number of local connections reached.
func (b *Broker) Publish(ctx context.Context, channel string, env Envelope) (int, error) {
	env.Channel = channel
	data, err := env.Encode()
	if err != nil {
		return 0, err
	}
	n := b.deliverChannel(channel, data)
	b.forward(ctx, fanout.ChannelTopic(channel), data, nil)
	return n, nil
}

// Subscribe adds connID to channel. The returned function unsubscribes.
func (b *Broker) Subscribe(connID, channel string) (func(), error) {
	if _, err := b.registry.Subscribe(connID, channel); err != nil {
		return nil, err
	}
	return func() { b.registry.Unsubscribe(connID, channel) }, nil
}

func (b *Broker) Unsubscribe(connID, channel string) bool {
	return b.registry.Unsubscribe(connID, channel)
}

// JoinRoom adds connID to room, records cluster membership and announces the
// join to the other members. It returns the room's members.
func (b *Broker) JoinRoom(ctx context.Context, connID, room string) ([]string, error) {
	c, ok := b.registry.Get(connID)
	if !ok {
		return nil, ErrConnectionNotFound
	}
	first, err := b.registry.JoinRoom(connID, room)
	if err != nil {
		return nil, err
	}
	if first {
		if b.presence != nil {
			if err := b.presence.AddRoomMember(ctx, room, c.userID); err != nil {
				b.logger.Warn().Err(err).Str("room", room).Msg("failed to record room member")
			}
		}
		b.PublishToRoom(ctx, room, NewRoomEventMessage(room, ActionJoined, c.userID), connID)
	}
	return b.RoomMembers(ctx, room), nil
}

// LeaveRoom removes connID from room and announces it when the user has no
// other connection left in the room.
func (b *Broker) LeaveRoom(ctx context.Context, connID, room string) error {
	c, ok := b.registry.Get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	left, last := b.registry.LeaveRoom(connID, room)
	if left && last {
		b.roomVacated(ctx, room, c.userID)
	}
	return nil
}

func (b *Broker) roomVacated(ctx context.Context, room, userID string) {
	if b.presence != nil {
		if err := b.presence.RemoveRoomMember(ctx, room, userID); err != nil {
			b.logger.Warn().Err(err).Str("room", room).Msg("failed to remove room member")
		}
	}
	b.PublishToRoom(ctx, room, NewRoomEventMessage(room, ActionLeft, userID))
}

// RoomMembers returns the cluster-wide members of room, falling back to the
// local view when presence is unavailable.
func (b *Broker) RoomMembers(ctx context.Context, room string) []string {
	if b.presence != nil {
		members, err := b.presence.RoomMembers(ctx, room)
		if err == nil {
			return members
		}
		b.logger.Warn().Err(err).Str("room", room).Msg("room member lookup failed, using local view")
	}
	return b.registry.RoomMembers(room)
}

// PublishToRoom broadcasts env to every connection in room except the listed
// connection ids.
func (b *Broker) PublishToRoom(ctx context.Context, room string, env Envelope, excluding ...string) int {
	env.Channel = room
	data, err := env.Encode()
	if err != nil {
		b.logger.Error().Err(err).Str("room", room).Msg("failed to encode room message")
		return 0
	}
	n := b.deliverRoom(room, data, excluding)
	b.forward(ctx, fanout.RoomTopic(room), data, excluding)
	return n
}

// DirectMessage delivers env to every connection of userID. When the user
// has no local connection and presence shows them absent cluster-wide (or
// presence cannot be reached), the payload is buffered for their next
// connection.
func (b *Broker) DirectMessage(ctx context.Context, userID string, env Envelope) (Delivery, error) {
	if env.Channel == "" {
		env.Channel = UserChannel(userID)
	}
	data, err := env.Encode()
	if err != nil {
		return Delivery{}, err
	}

	if local := b.registry.ConnectionsForUser(userID); len(local) > 0 {
		n := 0
		for _, c := range local {
			if c.sendRaw(data, false) == nil {
				n++
			}
		}
		b.metrics.Delivered("user", n)
		b.forward(ctx, fanout.UserTopic(userID), data, nil)
		return Delivery{Status: DeliveredLocal, Local: n}, nil
	}

	forwarded := b.forward(ctx, fanout.UserTopic(userID), data, nil)
	if forwarded && b.onlineElsewhere(ctx, userID) {
		return Delivery{Status: DeliveredRemote}, nil
	}

	n, buffered, evicted, err := b.registry.DeliverOrBuffer(userID, data)
	if err != nil {
		return Delivery{}, err
	}
	if !buffered {
		// The user connected here between the lookup and the lock.
		b.metrics.Delivered("user", n)
		return Delivery{Status: DeliveredLocal, Local: n}, nil
	}
	b.metrics.Buffer("enqueued", 1)
	b.metrics.Buffer("evicted", evicted)
	b.logger.Debug().Str("userID", userID).Int("evicted", evicted).Msg("user absent, message buffered")
	return Delivery{Status: DeliveryDeferred, Evicted: evicted}, nil
}

func (b *Broker) onlineElsewhere(ctx context.Context, userID string) bool {
	if b.presence == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	online, err := b.presence.IsOnline(ctx, userID)
	if err != nil {
		b.logger.Warn().Err(err).Str("userID", userID).Msg("presence lookup failed, buffering locally")
		return false
	}
	return online
}

// deliverChannel queues data to the live subscribers of channel and buffers
// it for subscribers whose last connection has recently closed.
func (b *Broker) deliverChannel(channel string, data []byte) int {
	n := 0
	for _, c := range b.registry.ChannelSubscribers(channel) {
		if c.sendRaw(data, false) == nil {
			n++
		}
	}
	b.metrics.Delivered("channel", n)

	if buffered, evicted := b.registry.BufferForDeparted(channel, data); buffered > 0 {
		b.metrics.Buffer("enqueued", buffered)
		b.metrics.Buffer("evicted", evicted)
		b.logger.Debug().Str("channel", channel).Int("users", buffered).Msg("buffered channel message for departed subscribers")
	}
	return n
}

func (b *Broker) deliverRoom(room string, data []byte, excluding []string) int {
	n := 0
	for _, c := range b.registry.RoomClients(room) {
		if contains(excluding, c.id) {
			continue
		}
		if c.sendRaw(data, false) == nil {
			n++
		}
	}
	b.metrics.Delivered("room", n)
	return n
}

func (b *Broker) deliverUser(userID string, data []byte) int {
	n := 0
	for _, c := range b.registry.ConnectionsForUser(userID) {
		if c.sendRaw(data, false) == nil {
			n++
		}
	}
	b.metrics.Delivered("user", n)
	return n
}

// forward publishes to the transport behind the fan-out breaker. It reports
// whether the frame was handed to the transport.
func (b *Broker) forward(ctx context.Context, topic string, data []byte, excluding []string) bool {
	if b.transport == nil {
		return false
	}
	breaker := b.breakers.Get(fanoutBreakerScope)
	if err := breaker.Allow(); err != nil {
		b.metrics.FanoutError()
		b.logger.Debug().Str("topic", topic).Msg("fan-out breaker open, local delivery only")
		return false
	}

	frame, err := fanout.EncodeFrame(fanout.Frame{Origin: b.nodeID, Payload: data, Exclude: excluding})
	if err != nil {
		breaker.Release()
		return false
	}
	if err := b.transport.Publish(ctx, topic, frame); err != nil {
		breaker.RecordFailure()
		b.metrics.FanoutError()
		b.logger.Warn().Err(err).Str("topic", topic).Msg("fan-out publish failed, local delivery only")
		return false
	}
	breaker.RecordSuccess()
	return true
}

func (b *Broker) handleFrame(topic string, payload []byte) {
	frame, err := fanout.DecodeFrame(payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("dropping malformed fan-out frame")
		return
	}
	if frame.Origin == b.nodeID {
		return
	}
	kind, target, err := fanout.ParseTopic(topic)
	if err != nil {
		b.logger.Warn().Err(err).Msg("dropping fan-out frame")
		return
	}
	data := []byte(frame.Payload)
	switch kind {
	case fanout.KindChannel:
		b.deliverChannel(target, data)
	case fanout.KindRoom:
		b.deliverRoom(target, data, frame.Exclude)
	case fanout.KindUser:
		b.deliverUser(target, data)
	}
}

// isUserChannel reports whether channel is a private user channel and
// returns its owner.
func isUserChannel(channel string) (string, bool) {
	return strings.CutPrefix(channel, UserChannelPrefix)
}

func isRoomChannel(channel string) (string, bool) {
	return strings.CutPrefix(channel, RoomChannelPrefix)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
