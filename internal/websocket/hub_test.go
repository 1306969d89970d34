package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"notify-service/internal/buffer"
	"notify-service/internal/limits"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorPayload(t *testing.T, env Envelope) ErrorData {
	t.Helper()
	require.Equal(t, MessageTypeError, env.Type)
	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Payload, &data))
	return data
}

func TestHubPingPong(t *testing.T) {
	h := newTestHub(t, hubFixture{})
	c := attach(t, h, "alice")

	h.handleInbound(c, []byte(`{"type":"ping","requestId":"r1"}`))

	envs := envelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, MessageTypePong, envs[0].Type)
	assert.Equal(t, "r1", envs[0].RequestID)
}

func TestHubRejectsMalformedFrames(t *testing.T) {
	h := newTestHub(t, hubFixture{})
	c := attach(t, h, "alice")

	for _, frame := range []string{`not json`, `{"type":"launch"}`, `{"type":"subscribe"}`, `{"type":"subscribe","channel":"a b"}`} {
		h.handleInbound(c, []byte(frame))
		envs := envelopes(t, c)
		require.Len(t, envs, 1, frame)
		assert.Equal(t, CodeInvalidMessage, errorPayload(t, envs[0]).Code, frame)
	}
	assert.False(t, c.isClosed(), "bad frames do not close the connection")
}

func TestHubSubscribeAndPublish(t *testing.T) {
	h := newTestHub(t, hubFixture{})
	alice := attach(t, h, "alice")
	bob := attach(t, h, "bob")

	h.handleInbound(bob, []byte(`{"type":"subscribe","channel":"exec:123","requestId":"s1"}`))
	envs := envelopes(t, bob)
	require.Len(t, envs, 1)
	assert.Equal(t, MessageTypeSubscriptionAck, envs[0].Type)
	assert.Equal(t, "s1", envs[0].RequestID)

	h.handleInbound(alice, []byte(`{"type":"publish","channel":"exec:123","payload":{"progress":50}}`))
	assert.Empty(t, envelopes(t, alice))
	envs = envelopes(t, bob)
	require.Len(t, envs, 1)
	assert.Equal(t, MessageTypeChannelMessage, envs[0].Type)
	assert.Equal(t, "alice", envs[0].Sender)
	assert.JSONEq(t, `{"progress":50}`, string(envs[0].Payload))

	h.handleInbound(bob, []byte(`{"type":"unsubscribe","channel":"exec:123"}`))
	envelopes(t, bob)
	h.handleInbound(alice, []byte(`{"type":"publish","channel":"exec:123","payload":1}`))
	assert.Empty(t, envelopes(t, bob))
}

func TestHubPrivateChannelAccess(t *testing.T) {
	h := newTestHub(t, hubFixture{})
	c := attach(t, h, "alice")

	h.handleInbound(c, []byte(`{"type":"subscribe","channel":"user:bob","requestId":"x"}`))
	envs := envelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, CodeForbidden, errorPayload(t, envs[0]).Code)
	assert.Equal(t, "x", envs[0].RequestID)

	h.handleInbound(c, []byte(`{"type":"subscribe","channel":"user:alice"}`))
	assert.Equal(t, MessageTypeSubscriptionAck, envelopes(t, c)[0].Type)

	h.handleInbound(c, []byte(`{"type":"publish","channel":"user:alice","payload":1}`))
	assert.Equal(t, CodeForbidden, errorPayload(t, envelopes(t, c)[0]).Code, "clients never publish to user channels")

	h.handleInbound(c, []byte(`{"type":"subscribe","channel":"room:lobby"}`))
	assert.Equal(t, CodeForbidden, errorPayload(t, envelopes(t, c)[0]).Code, "rooms are joined, not subscribed")
}

func TestHubRoomMessages(t *testing.T) {
	h := newTestHub(t, hubFixture{})
	alice := attach(t, h, "alice")
	bob := attach(t, h, "bob")

	h.handleInbound(alice, []byte(`{"type":"join_room","channel":"lobby","requestId":"j1"}`))
	envs := envelopes(t, alice)
	require.Len(t, envs, 1)
	var ack AckData
	require.NoError(t, json.Unmarshal(envs[0].Payload, &ack))
	assert.Equal(t, ActionJoined, ack.Action)
	assert.Equal(t, []string{"alice"}, ack.Members)

	h.handleInbound(bob, []byte(`{"type":"join_room","channel":"lobby"}`))
	envelopes(t, bob)
	assert.Equal(t, []MessageType{MessageTypeRoomEvent}, types(envelopes(t, alice)))

	h.handleInbound(alice, []byte(`{"type":"publish","channel":"room:lobby","payload":"hi"}`))
	assert.Empty(t, envelopes(t, alice), "the sender is excluded")
	envs = envelopes(t, bob)
	require.Len(t, envs, 1)
	assert.Equal(t, MessageTypeRoomMessage, envs[0].Type)
	assert.Equal(t, "lobby", envs[0].Channel)

	// Disconnecting announces the departure to the remaining members.
	bob.Close(1000, "")
	envs = envelopes(t, alice)
	require.Len(t, envs, 1)
	var event RoomEventData
	require.NoError(t, json.Unmarshal(envs[0].Payload, &event))
	assert.Equal(t, RoomEventData{Event: ActionLeft, UserID: "bob"}, event)
}

func TestHubRateLimitReply(t *testing.T) {
	clk := clock.NewMock()
	guard := limits.NewGuard(limits.GuardConfig{User: limits.WindowConfig{Limit: 2, Window: time.Second}}, nil, clk)
	h := newTestHub(t, hubFixture{clock: clk, guard: guard})
	c := attach(t, h, "alice")

	for i := 0; i < 3; i++ {
		h.handleInbound(c, []byte(`{"type":"ping"}`))
	}
	envs := envelopes(t, c)
	require.Len(t, envs, 3)
	assert.Equal(t, MessageTypePong, envs[1].Type)
	require.Equal(t, MessageTypeRateLimitExceeded, envs[2].Type)

	var verdict limits.Verdict
	require.NoError(t, json.Unmarshal(envs[2].Payload, &verdict))
	assert.False(t, verdict.Allowed)
	require.Len(t, verdict.Denials, 1)
	assert.Equal(t, limits.ScopeUser, verdict.Denials[0].Scope)
	assert.Equal(t, limits.ReasonRateLimited, verdict.Denials[0].Reason)

	clk.Add(time.Second)
	h.handleInbound(c, []byte(`{"type":"ping"}`))
	assert.Equal(t, MessageTypePong, envelopes(t, c)[0].Type)
}

func TestHubDisconnectUser(t *testing.T) {
	h := newTestHub(t, hubFixture{})
	attach(t, h, "alice")
	attach(t, h, "alice")
	attach(t, h, "bob")

	assert.Equal(t, 2, h.DisconnectUser("alice"))
	assert.Empty(t, h.Registry().ConnectionsForUser("alice"))
	assert.Equal(t, 1, h.Registry().Count())

	h.Shutdown()
	assert.Zero(t, h.Registry().Count())
}

func TestHubHealthDegradesWhenFanoutBreakerOpens(t *testing.T) {
	cl := newCluster(t)
	attach(t, cl.a, "alice")
	assert.Equal(t, "healthy", cl.a.Health().Status)

	cl.bus.SetFailure(assert.AnError)
	for i := 0; i < 5; i++ {
		_, err := cl.a.Broker().Publish(context.Background(), "news", NewEnvelope(MessageTypeChannelMessage, "", i))
		require.NoError(t, err)
	}
	health := cl.a.Health()
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, 1, health.ActiveConnections)
	assert.Equal(t, "open", health.Details["fanoutBreaker"])
}

func TestHubPurgesOnBufferSweepInterval(t *testing.T) {
	clk := clock.NewMock()
	buf := buffer.New(buffer.Config{TTL: 20 * time.Second, SweepEvery: 10 * time.Second, Clock: clk, Logger: zerolog.Nop()})
	h := newTestHub(t, hubFixture{clock: clk, buffer: buf})

	_, err := buf.Enqueue("alice", []byte(`{"type":"notification"}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.runPurge(ctx)
		close(done)
	}()

	// Let runPurge create its ticker before moving time.
	time.Sleep(10 * time.Millisecond)
	clk.Add(10 * time.Second)
	assert.Equal(t, 1, buf.Len("alice"))

	// Well under a minute: the sweep follows the configured interval.
	clk.Add(10 * time.Second)
	require.Eventually(t, func() bool { return buf.Len("alice") == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
