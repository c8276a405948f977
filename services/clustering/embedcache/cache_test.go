package embedcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/solgraph/services/clustering/collab/collabtest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCache_HitAfterMiss(t *testing.T) {
	next := collabtest.NewEmbedder()
	c := New(openTestStore(t), next, "model/4")
	ctx := context.Background()

	first, err := c.Embed(ctx, "complete the square")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "complete the square")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.Calls())
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCache_ModelIsPartOfKey(t *testing.T) {
	store := openTestStore(t)
	next := collabtest.NewEmbedder()
	ctx := context.Background()

	_, err := New(store, next, "small/256").Embed(ctx, "x")
	require.NoError(t, err)
	_, err = New(store, next, "large/1024").Embed(ctx, "x")
	require.NoError(t, err)

	assert.Equal(t, 2, next.Calls())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	next := collabtest.NewEmbedder()
	next.FailOn["flaky"] = true
	c := New(openTestStore(t), next, "m")
	ctx := context.Background()

	_, err := c.Embed(ctx, "flaky")
	assert.True(t, errors.Is(err, collabtest.ErrScripted))

	delete(next.FailOn, "flaky")
	vec, err := c.Embed(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, collabtest.HashVector("flaky"), vec)
}

func TestCache_CorruptEntryIsRecomputed(t *testing.T) {
	store := openTestStore(t)
	next := collabtest.NewEmbedder()
	c := New(store, next, "m")
	require.NoError(t, store.put(c.key("bad"), []byte{1, 2, 3}))

	vec, err := c.Embed(context.Background(), "bad")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, next.Calls())
}

func TestEncodeDecode(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, 1e-7}
	got, err := decode(encode(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decode(nil)
	assert.Error(t, err)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_PersistentWithGC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.put([]byte("k"), []byte("v")))
	v, ok, err := s.get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	require.NoError(t, s.Close())
}
