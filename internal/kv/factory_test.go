package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStoreFromDSNSchemes(t *testing.T) {
	store, err := BuildStoreFromDSN("memory://")
	require.NoError(t, err)
	_, ok := store.(*MemoryStore)
	assert.True(t, ok, "expected memory store for memory://")

	dir := t.TempDir()
	store, err = BuildStoreFromDSN("file://" + dir)
	require.NoError(t, err)
	_, ok = store.(*FileStore)
	assert.True(t, ok, "expected file store for file://")

	store, err = BuildStoreFromDSN(dir)
	require.NoError(t, err)
	_, ok = store.(*FileStore)
	assert.True(t, ok, "expected file store for bare path")

	_, err = BuildStoreFromDSN("carrierpigeon://coop")
	assert.Error(t, err)
}

func TestRegisteredFactoryWinsOverBuiltin(t *testing.T) {
	marker := NewMemoryStore()
	RegisterStoreFactory("custom", func(dsn string) (Store, error) {
		return marker, nil
	})
	store, err := BuildStoreFromDSN("custom://anything")
	require.NoError(t, err)
	assert.Same(t, marker, store)
}
