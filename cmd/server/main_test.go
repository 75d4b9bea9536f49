package main

import (
	"context"
	"testing"

	"github.com/jrsteele09/spotify-session-server/internal/config"
	"github.com/jrsteele09/spotify-session-server/internal/kv"
	"github.com/stretchr/testify/require"
)

func TestNewKVBackend(t *testing.T) {
	ctx := context.Background()

	t.Setenv("KV_BACKEND", "memory")
	backend, err := newKVBackend(ctx, config.New())
	require.NoError(t, err)
	require.IsType(t, &kv.MemoryStore{}, backend)

	t.Setenv("KV_BACKEND", "etcd")
	_, err = newKVBackend(ctx, config.New())
	require.Error(t, err)
}

func TestNewHandlerRequiresSpotifyCredentials(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	_, err := newHandler(config.New(), kv.NewMemoryStore())
	require.Error(t, err)

	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	srv, err := newHandler(config.New(), kv.NewMemoryStore())
	require.NoError(t, err)
	require.NotNil(t, srv)
}
