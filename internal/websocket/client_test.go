package websocket

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientQueueDropsOldestNonCritical(t *testing.T) {
	h := newTestHub(t, hubFixture{opts: Options{SendQueueSize: 3}})
	c := newClient(h, nil, "u1", "ip", "")

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.sendRaw([]byte(fmt.Sprintf(`{"type":"channel_message","payload":%d}`, i)), false))
	}

	assert.Equal(t, 3, c.queueLen(), "the warning counts against the queue size")
	envs := envelopes(t, c)
	require.Len(t, envs, 3)
	assert.Equal(t, []MessageType{
		MessageTypeSlowConsumer, MessageTypeChannelMessage, MessageTypeChannelMessage,
	}, types(envs))
	assert.JSONEq(t, `4`, string(envs[1].Payload))
	assert.JSONEq(t, `5`, string(envs[2].Payload))

	var warning SlowConsumerData
	require.NoError(t, json.Unmarshal(envs[0].Payload, &warning))
	assert.Equal(t, 2, warning.Dropped)
	assert.Equal(t, 3, warning.QueueSize)
}

func TestClientQueueNeverExceedsSize(t *testing.T) {
	for _, size := range []int{1, 2, 5} {
		h := newTestHub(t, hubFixture{opts: Options{SendQueueSize: size}})
		c := newClient(h, nil, "u1", "ip", "")
		for i := 0; i < 3*size+2; i++ {
			require.NoError(t, c.sendRaw([]byte(`{"type":"channel_message"}`), false))
			assert.LessOrEqual(t, c.queueLen(), size, "size %d after %d sends", size, i+1)
		}
		assert.Contains(t, types(envelopes(t, c)), MessageTypeSlowConsumer)
	}
}

func TestClientSlowConsumerWarnedOncePerEpisode(t *testing.T) {
	h := newTestHub(t, hubFixture{opts: Options{SendQueueSize: 2}})
	c := newClient(h, nil, "u1", "ip", "")
	msg := []byte(`{"type":"channel_message"}`)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.sendRaw(msg, false))
	}
	warnings := 0
	for _, e := range envelopes(t, c) {
		if e.Type == MessageTypeSlowConsumer {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)

	// Draining the queue ends the episode; the next overflow warns again.
	for i := 0; i < 3; i++ {
		require.NoError(t, c.sendRaw(msg, false))
	}
	assert.Contains(t, types(envelopes(t, c)), MessageTypeSlowConsumer)
}

func TestClientQueueKeepsCriticalMessages(t *testing.T) {
	h := newTestHub(t, hubFixture{opts: Options{SendQueueSize: 1}})
	c := newClient(h, nil, "u1", "ip", "")

	require.NoError(t, c.Send(NewSlowConsumerMessage(0, 1)))
	require.NoError(t, c.sendRaw([]byte(`{"type":"channel_message"}`), false))

	got := types(envelopes(t, c))
	assert.NotContains(t, got, MessageTypeChannelMessage,
		"a full queue of critical messages drops the incoming regular message")
	assert.Contains(t, got, MessageTypeSlowConsumer)
}

func TestClientClosedRejectsSends(t *testing.T) {
	h := newTestHub(t, hubFixture{})
	c := attach(t, h, "u1")

	c.Close(1000, "bye")
	c.Close(1000, "again")

	assert.ErrorIs(t, c.Send(NewPongMessage("")), ErrClientDisconnected)
	_, ok := h.Registry().Get(c.ID())
	assert.False(t, ok)
	assert.Zero(t, h.Heartbeat().Len())
}
