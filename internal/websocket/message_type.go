package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType is the envelope discriminator.
type MessageType string

// Inbound (client to server) types.
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePublish     MessageType = "publish"
	MessageTypeJoinRoom    MessageType = "join_room"
	MessageTypeLeaveRoom   MessageType = "leave_room"
	MessageTypePing        MessageType = "ping"
)

// Outbound (server to client) types.
const (
	MessageTypeConnectionEstablished MessageType = "connection_established"
	MessageTypeSubscriptionAck       MessageType = "subscription_ack"
	MessageTypeChannelMessage        MessageType = "channel_message"
	MessageTypeRoomMessage           MessageType = "room_message"
	MessageTypeRoomEvent             MessageType = "room_event"
	MessageTypeNotification          MessageType = "notification"
	MessageTypeExecutionUpdate       MessageType = "execution_update"
	MessageTypeRateLimitExceeded     MessageType = "rate_limit_exceeded"
	MessageTypeSlowConsumer          MessageType = "slow_consumer"
	MessageTypeError                 MessageType = "error"
	MessageTypePong                  MessageType = "pong"
)

const maxNameLength = 128

// String returns the string representation of the MessageType
func (mt MessageType) String() string {
	return string(mt)
}

// IsInbound reports whether clients may send this type.
func (mt MessageType) IsInbound() bool {
	switch mt {
	case MessageTypeSubscribe, MessageTypeUnsubscribe, MessageTypePublish,
		MessageTypeJoinRoom, MessageTypeLeaveRoom, MessageTypePing:
		return true
	default:
		return false
	}
}

// IsValid checks if the MessageType is a known inbound or outbound type.
func (mt MessageType) IsValid() bool {
	if mt.IsInbound() {
		return true
	}
	switch mt {
	case MessageTypeConnectionEstablished, MessageTypeSubscriptionAck, MessageTypeChannelMessage,
		MessageTypeRoomMessage, MessageTypeRoomEvent, MessageTypeNotification,
		MessageTypeExecutionUpdate, MessageTypeRateLimitExceeded, MessageTypeSlowConsumer,
		MessageTypeError, MessageTypePong:
		return true
	default:
		return false
	}
}

// Envelope is the wire format in both directions. For room operations
// Channel carries the room name.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
	Sender    string          `json:"sender,omitempty"`
}

// Encode marshals the envelope, stamping the timestamp if unset.
func (e Envelope) Encode() ([]byte, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return json.Marshal(e)
}

// =============================================================================
// Inbound
// =============================================================================

// InboundMessage is one of the request types a client may send.
type InboundMessage interface {
	Type() MessageType
	ReqID() string
}

type SubscribeRequest struct {
	Channel   string
	RequestID string
}

type UnsubscribeRequest struct {
	Channel   string
	RequestID string
}

type PublishRequest struct {
	Channel   string
	Payload   json.RawMessage
	RequestID string
}

type JoinRoomRequest struct {
	Room      string
	RequestID string
}

type LeaveRoomRequest struct {
	Room      string
	RequestID string
}

type PingRequest struct {
	RequestID string
}

func (SubscribeRequest) Type() MessageType   { return MessageTypeSubscribe }
func (UnsubscribeRequest) Type() MessageType { return MessageTypeUnsubscribe }
func (PublishRequest) Type() MessageType     { return MessageTypePublish }
func (JoinRoomRequest) Type() MessageType    { return MessageTypeJoinRoom }
func (LeaveRoomRequest) Type() MessageType   { return MessageTypeLeaveRoom }
func (PingRequest) Type() MessageType        { return MessageTypePing }

func (r SubscribeRequest) ReqID() string   { return r.RequestID }
func (r UnsubscribeRequest) ReqID() string { return r.RequestID }
func (r PublishRequest) ReqID() string     { return r.RequestID }
func (r JoinRoomRequest) ReqID() string    { return r.RequestID }
func (r LeaveRoomRequest) ReqID() string   { return r.RequestID }
func (r PingRequest) ReqID() string        { return r.RequestID }

// ValidateName checks a channel or room name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMessage)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidMessage, maxNameLength)
	}
	if strings.ContainsAny(name, " \t\r\n*?[]") {
		return fmt.Errorf("%w: name %q contains reserved characters", ErrInvalidMessage, name)
	}
	return nil
}

// ParseInbound decodes and validates a client frame.
func ParseInbound(data []byte) (InboundMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !env.Type.IsInbound() {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidMessage, env.Type)
	}
	if env.Type == MessageTypePing {
		return PingRequest{RequestID: env.RequestID}, nil
	}
	if err := ValidateName(env.Channel); err != nil {
		return nil, err
	}

	switch env.Type {
	case MessageTypeSubscribe:
		return SubscribeRequest{Channel: env.Channel, RequestID: env.RequestID}, nil
	case MessageTypeUnsubscribe:
		return UnsubscribeRequest{Channel: env.Channel, RequestID: env.RequestID}, nil
	case MessageTypePublish:
		if len(env.Payload) == 0 {
			return nil, fmt.Errorf("%w: publish requires a payload", ErrInvalidMessage)
		}
		return PublishRequest{Channel: env.Channel, Payload: env.Payload, RequestID: env.RequestID}, nil
	case MessageTypeJoinRoom:
		return JoinRoomRequest{Room: env.Channel, RequestID: env.RequestID}, nil
	default:
		return LeaveRoomRequest{Room: env.Channel, RequestID: env.RequestID}, nil
	}
}

// =============================================================================
// Outbound
// =============================================================================

type ConnectData struct {
	ConnectionID      string `json:"connectionId"`
	UserID            string `json:"userId"`
	HeartbeatInterval int64  `json:"heartbeatIntervalMs"`
}

type AckData struct {
	Action  string   `json:"action"`
	Members []string `json:"members,omitempty"`
}

type RoomEventData struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SlowConsumerData struct {
	Dropped   int `json:"dropped"`
	QueueSize int `json:"queueSize"`
}

// Ack actions and room events.
const (
	ActionSubscribed   = "subscribed"
	ActionUnsubscribed = "unsubscribed"
	ActionJoined       = "joined"
	ActionLeft         = "left"
)

// Error codes sent to clients.
const (
	CodeInvalidMessage = "invalid_message"
	CodeForbidden      = "forbidden"
	CodeLimitExceeded  = "limit_exceeded"
	CodeInternal       = "internal_error"
)

func mustPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return data
}

// NewEnvelope builds an outbound envelope; payload is marshalled to JSON.
func NewEnvelope(t MessageType, channel string, payload any) Envelope {
	env := Envelope{Type: t, Channel: channel, Timestamp: time.Now().UTC()}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		env.Payload = p
	default:
		env.Payload = mustPayload(p)
	}
	return env
}

func NewConnectMessage(connID, userID string, heartbeat time.Duration) Envelope {
	return NewEnvelope(MessageTypeConnectionEstablished, "", ConnectData{
		ConnectionID:      connID,
		UserID:            userID,
		HeartbeatInterval: heartbeat.Milliseconds(),
	})
}

func NewAckMessage(channel, action, requestID string, members []string) Envelope {
	env := NewEnvelope(MessageTypeSubscriptionAck, channel, AckData{Action: action, Members: members})
	env.RequestID = requestID
	return env
}

func NewRoomEventMessage(room, event, userID string) Envelope {
	return NewEnvelope(MessageTypeRoomEvent, room, RoomEventData{Event: event, UserID: userID})
}

func NewErrorMessage(code, message, requestID string) Envelope {
	env := NewEnvelope(MessageTypeError, "", ErrorData{Code: code, Message: message})
	env.RequestID = requestID
	return env
}

func NewPongMessage(requestID string) Envelope {
	env := NewEnvelope(MessageTypePong, "", nil)
	env.RequestID = requestID
	return env
}

func NewSlowConsumerMessage(dropped, queueSize int) Envelope {
	return NewEnvelope(MessageTypeSlowConsumer, "", SlowConsumerData{Dropped: dropped, QueueSize: queueSize})
}
