package kv

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put("yarny_saves", []byte(`[{"fileId":"f1"}]`)))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	value, err := reopened.Get("yarny_saves")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"fileId":"f1"}]`, string(value))
}

func TestFileStoreMissingKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Get("absent")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreDeleteToleratesAbsence(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete("never-written"))
}

func TestFileStoreRejectsPathyKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, store.Put("../escape", []byte("x")))
	assert.Error(t, store.Put("a/b", []byte("x")))
}

func TestFileStorePathMatchesBackingFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	path, err := store.Path("yarny_saves")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "yarny_saves.json"), path)
}

func TestMemoryStoreRoundtrip(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put("k", []byte("v")))
	value, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	// Mutating the returned slice must not leak into the store.
	value[0] = 'x'
	again, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), again)

	require.NoError(t, store.Delete("k"))
	_, err = store.Get("k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestJSONHelpers(t *testing.T) {
	store := NewMemoryStore()
	type entry struct {
		FileID string `json:"fileId"`
	}
	require.NoError(t, PutJSON(store, "log", []entry{{FileID: "f1"}}))
	var out []entry
	require.NoError(t, GetJSON(store, "log", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "f1", out[0].FileID)
}
