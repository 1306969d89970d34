package websocket

import (
	"context"
	"errors"
	"testing"

	"notify-service/internal/fanout"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cluster struct {
	bus      *fanout.Bus
	presence *fanout.MemoryPresence
	a, b     *Hub
}

// newCluster starts two hubs sharing one in-memory transport and presence store.
func newCluster(t *testing.T) *cluster {
	t.Helper()
	clk := clock.New()
	cl := &cluster{bus: fanout.NewBus(), presence: fanout.NewMemoryPresence(clk)}
	cl.a = newTestHub(t, hubFixture{clock: clk, bus: cl.bus, presence: cl.presence, opts: Options{NodeID: "node-a"}})
	cl.b = newTestHub(t, hubFixture{clock: clk, bus: cl.bus, presence: cl.presence, opts: Options{NodeID: "node-b"}})
	for _, h := range []*Hub{cl.a, cl.b} {
		require.NoError(t, h.Broker().Start(context.Background()))
		h := h
		t.Cleanup(func() { h.Broker().Stop() })
	}
	return cl
}

func TestBrokerPublishReachesOtherInstancesOnce(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()

	local := attach(t, cl.a, "alice")
	remote := attach(t, cl.b, "bob")
	for _, c := range []*Client{local, remote} {
		_, err := c.hub.Broker().Subscribe(c.ID(), "exec:123")
		require.NoError(t, err)
	}

	n, err := cl.a.Broker().Publish(ctx, "exec:123", NewEnvelope(MessageTypeChannelMessage, "", map[string]string{"status": "completed"}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, c := range []*Client{local, remote} {
		envs := envelopes(t, c)
		require.Len(t, envs, 1, "own frames are not delivered twice")
		assert.Equal(t, "exec:123", envs[0].Channel)
		assert.JSONEq(t, `{"status":"completed"}`, string(envs[0].Payload))
	}
}

func TestBrokerFanoutFailureKeepsLocalDelivery(t *testing.T) {
	cl := newCluster(t)
	local := attach(t, cl.a, "alice")
	remote := attach(t, cl.b, "bob")
	_, err := cl.a.Broker().Subscribe(local.ID(), "news")
	require.NoError(t, err)
	_, err = cl.b.Broker().Subscribe(remote.ID(), "news")
	require.NoError(t, err)

	cl.bus.SetFailure(errors.New("redis down"))
	n, err := cl.a.Broker().Publish(context.Background(), "news", NewEnvelope(MessageTypeChannelMessage, "", "hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, envelopes(t, local), 1)
	assert.Empty(t, envelopes(t, remote))
}

func TestBrokerFanoutBreakerOpensAfterRepeatedFailures(t *testing.T) {
	cl := newCluster(t)
	cl.bus.SetFailure(errors.New("redis down"))
	for i := 0; i < 5; i++ {
		_, err := cl.a.Broker().Publish(context.Background(), "news", NewEnvelope(MessageTypeChannelMessage, "", i))
		require.NoError(t, err)
	}
	assert.Equal(t, "open", cl.a.Guard().Breakers().Get(fanoutBreakerScope).State().String())
}

func TestBrokerDirectMessageDelivery(t *testing.T) {
	t.Run("local connections", func(t *testing.T) {
		cl := newCluster(t)
		c1 := attach(t, cl.a, "alice")
		c2 := attach(t, cl.a, "alice")

		d, err := cl.a.Broker().DirectMessage(context.Background(), "alice", NewEnvelope(MessageTypeNotification, "", "x"))
		require.NoError(t, err)
		assert.Equal(t, DeliveredLocal, d.Status)
		assert.Equal(t, 2, d.Local)
		for _, c := range []*Client{c1, c2} {
			envs := envelopes(t, c)
			require.Len(t, envs, 1)
			assert.Equal(t, "user:alice", envs[0].Channel)
		}
	})

	t.Run("user connected to another instance", func(t *testing.T) {
		cl := newCluster(t)
		remote := attach(t, cl.b, "alice")

		d, err := cl.a.Broker().DirectMessage(context.Background(), "alice", NewEnvelope(MessageTypeNotification, "", "x"))
		require.NoError(t, err)
		assert.Equal(t, DeliveredRemote, d.Status)
		assert.Len(t, envelopes(t, remote), 1)
		assert.Zero(t, cl.a.Buffer().Len("alice"))
	})

	t.Run("absent user is buffered and drained on connect", func(t *testing.T) {
		cl := newCluster(t)

		d, err := cl.a.Broker().DirectMessage(context.Background(), "alice", NewEnvelope(MessageTypeNotification, "", "queued"))
		require.NoError(t, err)
		assert.Equal(t, DeliveryDeferred, d.Status)
		assert.Equal(t, 1, cl.a.Buffer().Len("alice"))

		c := attach(t, cl.a, "alice")
		envs := envelopes(t, c)
		require.Len(t, envs, 1)
		assert.Equal(t, MessageTypeNotification, envs[0].Type)
		assert.JSONEq(t, `"queued"`, string(envs[0].Payload))
	})

	t.Run("presence failure buffers locally", func(t *testing.T) {
		cl := newCluster(t)
		cl.presence.SetFailure(errors.New("presence unavailable"))

		d, err := cl.a.Broker().DirectMessage(context.Background(), "alice", NewEnvelope(MessageTypeNotification, "", "x"))
		require.NoError(t, err)
		assert.Equal(t, DeliveryDeferred, d.Status)
		assert.Equal(t, 1, cl.a.Buffer().Len("alice"))
	})
}

func TestBrokerRoomsAcrossInstances(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	alice := attach(t, cl.a, "alice")
	bob := attach(t, cl.b, "bob")

	members, err := cl.a.Broker().JoinRoom(ctx, alice.ID(), "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
	assert.Empty(t, envelopes(t, alice), "the joiner is not told about its own join")

	members, err = cl.b.Broker().JoinRoom(ctx, bob.ID(), "lobby")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	envs := envelopes(t, alice)
	require.Len(t, envs, 1)
	assert.Equal(t, MessageTypeRoomEvent, envs[0].Type)
	assert.JSONEq(t, `{"event":"joined","userId":"bob"}`, string(envs[0].Payload))

	env := NewEnvelope(MessageTypeRoomMessage, "", "hello")
	env.Sender = "alice"
	assert.Equal(t, 0, cl.a.Broker().PublishToRoom(ctx, "lobby", env, alice.ID()))
	envs = envelopes(t, bob)
	require.Len(t, envs, 1)
	assert.Equal(t, "alice", envs[0].Sender)
	assert.Equal(t, "lobby", envs[0].Channel)

	require.NoError(t, cl.b.Broker().LeaveRoom(ctx, bob.ID(), "lobby"))
	envs = envelopes(t, alice)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `{"event":"left","userId":"bob"}`, string(envs[0].Payload))
	assert.Equal(t, []string{"alice"}, cl.a.Broker().RoomMembers(ctx, "lobby"))
}
