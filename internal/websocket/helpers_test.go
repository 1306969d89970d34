package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"notify-service/internal/buffer"
	"notify-service/internal/fanout"
	"notify-service/internal/limits"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type staticAuth map[string]string

func (a staticAuth) Verify(_ context.Context, token string) (string, error) {
	if userID, ok := a[token]; ok {
		return userID, nil
	}
	return "", errors.New("unknown token")
}

var testTokens = staticAuth{"token-alice": "alice", "token-bob": "bob"}

type hubFixture struct {
	opts     Options
	clock    clock.Clock
	bus      *fanout.Bus
	presence *fanout.MemoryPresence
	guard    *limits.Guard
	buffer   *buffer.Buffer
}

func newTestHub(t *testing.T, f hubFixture) *Hub {
	t.Helper()
	if f.clock == nil {
		f.clock = clock.New()
	}
	if f.buffer == nil {
		f.buffer = buffer.New(buffer.Config{Clock: f.clock, Logger: zerolog.Nop()})
	}
	deps := Deps{
		Auth:   testTokens,
		Guard:  f.guard,
		Buffer: f.buffer,
		Logger: zerolog.Nop(),
		Clock:  f.clock,
	}
	if f.bus != nil {
		deps.Transport = f.bus
	}
	if f.presence != nil {
		deps.Presence = f.presence
	}
	return NewHub(f.opts, deps)
}

// attach registers a socketless client; its queue is read with envelopes.
func attach(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := newClient(h, nil, userID, "10.0.0.1", "test")
	require.NoError(t, h.register(context.Background(), c))
	return c
}

func envelopes(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for _, m := range c.takeBatch() {
		var env Envelope
		require.NoError(t, json.Unmarshal(m.data, &env))
		out = append(out, env)
	}
	return out
}

func types(envs []Envelope) []MessageType {
	out := make([]MessageType, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}
