// Package fanout defines the cross-instance transport the broker publishes
// through, plus the cluster presence lookups used for offline detection.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Topic prefixes on the transport.
const (
	TopicPrefix   = "rt:"
	TopicPattern  = TopicPrefix + "*"
	channelPrefix = TopicPrefix + "channel:"
	roomPrefix    = TopicPrefix + "room:"
	userPrefix    = TopicPrefix + "user:"
)

// Kind says which local index a frame resolves against.
type Kind string

const (
	KindChannel Kind = "channel"
	KindRoom    Kind = "room"
	KindUser    Kind = "user"
)

var ErrInvalidTopic = errors.New("invalid fan-out topic")

// Handler receives a raw frame published on a topic matching a subscription.
type Handler func(topic string, payload []byte)

// Transport moves frames between process instances.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for every topic matching the glob pattern.
	// The returned function stops the subscription.
	Subscribe(ctx context.Context, pattern string, handler Handler) (func() error, error)
}

// Presence answers whether a user holds a connection on any instance and
// tracks cluster-wide room membership.
type Presence interface {
	MarkOnline(ctx context.Context, userID, nodeID string, ttl time.Duration) error
	MarkOffline(ctx context.Context, userID, nodeID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	AddRoomMember(ctx context.Context, room, userID string) error
	RemoveRoomMember(ctx context.Context, room, userID string) error
	RoomMembers(ctx context.Context, room string) ([]string, error)
}

func ChannelTopic(name string) string { return channelPrefix + name }
func RoomTopic(name string) string    { return roomPrefix + name }
func UserTopic(userID string) string  { return userPrefix + userID }

// ParseTopic splits a topic into its kind and target.
func ParseTopic(topic string) (Kind, string, error) {
	for _, p := range []struct {
		prefix string
		kind   Kind
	}{
		{channelPrefix, KindChannel},
		{roomPrefix, KindRoom},
		{userPrefix, KindUser},
	} {
		if target, ok := strings.CutPrefix(topic, p.prefix); ok && target != "" {
			return p.kind, target, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
}

// Frame is what travels on the transport. Origin is the publishing node so
// that a node can ignore its own frames.
type Frame struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
	// Exclude lists connection ids that must not receive a room broadcast.
	Exclude []string `json:"exclude,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode fan-out frame: %w", err)
	}
	if f.Origin == "" {
		return Frame{}, errors.New("decode fan-out frame: missing origin")
	}
	return f, nil
}
