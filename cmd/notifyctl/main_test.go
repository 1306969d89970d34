package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"notify-service/internal/auth"
	"notify-service/pkg/reconnect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	var out bytes.Buffer
	root := buildRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "alice", "--secret", "dev-secret"})
	require.NoError(t, root.Execute())

	userID, err := auth.NewJWTAuthenticator("dev-secret", 0).Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestTokenCommandRequiresUser(t *testing.T) {
	root := buildRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--secret", "dev-secret"})
	assert.Error(t, root.Execute())
}

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"migrate", "seed", "token", "listen"})
}

func TestWatchStatesStopsWhenControllerFails(t *testing.T) {
	ctrl := reconnect.New(reconnect.Config{
		URL:         "ws://127.0.0.1:1/ws",
		Base:        time.Millisecond,
		MaxAttempts: 2,
	})
	ctrl.Start(context.Background())
	defer ctrl.Close()

	var seen []reconnect.State
	err := watchStates(context.Background(), ctrl, func(s reconnect.State) { seen = append(seen, s) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 failed attempts")
	assert.Equal(t, reconnect.StateFailed, seen[len(seen)-1])
}
