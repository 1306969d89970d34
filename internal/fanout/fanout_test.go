package fanout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic  string
		kind   Kind
		target string
	}{
		{ChannelTopic("exec:123"), KindChannel, "exec:123"},
		{RoomTopic("lobby"), KindRoom, "lobby"},
		{UserTopic("42"), KindUser, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, target, err := ParseTopic(tt.topic)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.target, target)
		})
	}

	_, _, err := ParseTopic("rt:channel:")
	assert.ErrorIs(t, err, ErrInvalidTopic)
	_, _, err = ParseTopic("chat:channel:1")
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestFrameRoundTripRequiresOrigin(t *testing.T) {
	data, err := EncodeFrame(Frame{Origin: "node-a", Payload: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, "node-a", f.Origin)
	assert.JSONEq(t, `{"x":1}`, string(f.Payload))

	_, err = DecodeFrame([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestBusPatternDelivery(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var all, channels []string
	_, err := bus.Subscribe(ctx, TopicPattern, func(topic string, _ []byte) { all = append(all, topic) })
	require.NoError(t, err)
	stop, err := bus.Subscribe(ctx, "rt:channel:*", func(topic string, _ []byte) { channels = append(channels, topic) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, ChannelTopic("a"), nil))
	require.NoError(t, bus.Publish(ctx, UserTopic("1"), nil))
	require.NoError(t, stop())
	require.NoError(t, bus.Publish(ctx, ChannelTopic("b"), nil))

	assert.Equal(t, []string{"rt:channel:a", "rt:user:1", "rt:channel:b"}, all)
	assert.Equal(t, []string{"rt:channel:a"}, channels)
}

func TestBusFailureAndClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	bus.SetFailure(assert.AnError)
	assert.ErrorIs(t, bus.Publish(ctx, ChannelTopic("a"), nil), assert.AnError)
	bus.SetFailure(nil)
	assert.NoError(t, bus.Publish(ctx, ChannelTopic("a"), nil))

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(ctx, ChannelTopic("a"), nil), ErrBusClosed)
}

func TestMemoryPresenceTTL(t *testing.T) {
	clk := clock.NewMock()
	p := NewMemoryPresence(clk)
	ctx := context.Background()

	require.NoError(t, p.MarkOnline(ctx, "u1", "node-a", time.Minute))
	online, err := p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	clk.Add(2 * time.Minute)
	online, err = p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online, "expired entries do not count")

	require.NoError(t, p.MarkOnline(ctx, "u1", "node-a", time.Minute))
	require.NoError(t, p.MarkOffline(ctx, "u1", "node-a"))
	online, err = p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestMemoryPresenceRooms(t *testing.T) {
	p := NewMemoryPresence(nil)
	ctx := context.Background()

	require.NoError(t, p.AddRoomMember(ctx, "lobby", "b"))
	require.NoError(t, p.AddRoomMember(ctx, "lobby", "a"))
	members, err := p.RoomMembers(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	require.NoError(t, p.RemoveRoomMember(ctx, "lobby", "a"))
	require.NoError(t, p.RemoveRoomMember(ctx, "lobby", "b"))
	members, err = p.RoomMembers(ctx, "lobby")
	require.NoError(t, err)
	assert.Empty(t, members)
}
