package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGet(t *testing.T) {
	store := openMemory(t)

	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	wave := []float64{0.5, -0.25, 1e-9, 0}
	require.NoError(t, store.Put("clip|10|20", wave))

	got, ok, err := store.Get("clip|10|20")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, wave, got)

	n, err := store.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPurge(t *testing.T) {
	store := openMemory(t)
	require.NoError(t, store.Put("a", []float64{1}))
	require.NoError(t, store.Put("b", []float64{2}))

	require.NoError(t, store.Purge())
	n, err := store.Len()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, store.Put("k", []float64{3}))
	require.NoError(t, store.Close())

	store, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer store.Close()
	got, ok, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float64{3}, got)

	_, err = Open(Options{})
	require.Error(t, err)
}
