package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "cooldown:abc", "1", time.Minute))
	val, err := s.Get(ctx, "cooldown:abc")
	require.NoError(t, err)
	assert.Equal(t, "1", val)

	// TTL expiry
	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "cooldown:abc")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisStoreDelete(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete(ctx, "k"))
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "answers:fp1", `{"riasec":{}}`, 0))
	val, err := s.Get(ctx, "answers:fp1")
	require.NoError(t, err)
	assert.Equal(t, `{"riasec":{}}`, val)

	// Overwrite keeps a single row per key.
	require.NoError(t, s.Set(ctx, "answers:fp1", "v2", 0))
	val, err = s.Get(ctx, "answers:fp1")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}

func TestSQLiteStoreTTL(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	require.NoError(t, s.Set(ctx, "cooldown:fp", "1", 30*time.Second))

	val, err := s.Get(ctx, "cooldown:fp")
	require.NoError(t, err)
	assert.Equal(t, "1", val)

	// Advance past the TTL; the entry must be gone.
	s.now = func() time.Time { return base.Add(31 * time.Second) }
	_, err = s.Get(ctx, "cooldown:fp")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
