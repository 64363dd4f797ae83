package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	chatclient "github.com/creastat/chatclient"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(StoreTypeMemory)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, KeyAccessToken, "tok-1"))
	value, ok, err := store.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok-1", value)

	require.NoError(t, store.Set(ctx, KeyAccessToken, "tok-2"))
	value, _, _ = store.Get(ctx, KeyAccessToken)
	require.Equal(t, "tok-2", value, "set overwrites, last write wins")

	require.NoError(t, store.Remove(ctx, KeyAccessToken))
	_, ok, err = store.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	// Removing an absent key is not an error.
	require.NoError(t, store.Remove(ctx, "ghost"))
	require.NoError(t, store.Close())
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(StoreType("etcd"))
	require.ErrorIs(t, err, chatclient.ErrInvalidStoreType)
}

func TestNewRedisRequiresClient(t *testing.T) {
	_, err := New(StoreTypeRedis)
	require.ErrorIs(t, err, chatclient.ErrInvalidConfig)
}
