package kv

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client)
}

func TestRedisStoreRoundtrip(t *testing.T) {
	store := newTestRedisStore(t)
	require.NoError(t, store.Put("yarny_syncs", []byte(`[]`)))
	value, err := store.Get("yarny_syncs")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), value)
}

func TestRedisStoreMissingAndDelete(t *testing.T) {
	store := newTestRedisStore(t)
	_, err := store.Get("absent")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, store.Delete("absent"))
}

func TestRedisStoreKeysArePrefixed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStoreWithClient(client)

	require.NoError(t, store.Put("k", []byte("v")))
	got, err := mr.Get("yarnysync:k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
