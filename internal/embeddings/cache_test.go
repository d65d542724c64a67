package embeddings

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLRUHitAndMiss(t *testing.T) {
	l := NewLocalLRU(4)
	ctx := context.Background()

	_, ok := l.Get(ctx, "k1")
	assert.False(t, ok)

	l.Set(ctx, "k1", []float64{1, 2, 3}, time.Minute)
	v, ok := l.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, v)
}

func TestLocalLRUEvictsLeastRecent(t *testing.T) {
	l := NewLocalLRU(2)
	ctx := context.Background()

	l.Set(ctx, "a", []float64{1}, time.Minute)
	l.Set(ctx, "b", []float64{2}, time.Minute)

	// Touch "a" so "b" is the eviction candidate.
	_, ok := l.Get(ctx, "a")
	require.True(t, ok)

	l.Set(ctx, "c", []float64{3}, time.Minute)

	_, ok = l.Get(ctx, "b")
	assert.False(t, ok)
	_, ok = l.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = l.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLocalLRUExpiry(t *testing.T) {
	l := NewLocalLRU(4)
	ctx := context.Background()

	l.Set(ctx, "k", []float64{1}, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := l.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLocalLRUOverwrite(t *testing.T) {
	l := NewLocalLRU(4)
	ctx := context.Background()

	l.Set(ctx, "k", []float64{1}, time.Minute)
	l.Set(ctx, "k", []float64{2}, time.Minute)

	v, ok := l.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float64{2}, v)
}

func TestRedisCacheRoundtrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(cli)
	ctx := context.Background()

	vec := []float64{0.125, -3.5, 0, 1e-9}
	c.Set(ctx, "emb:test", vec, time.Minute)

	got, ok := c.Get(ctx, "emb:test")
	require.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok = c.Get(ctx, "emb:missing")
	assert.False(t, ok)
}

func TestRedisCacheRejectsCorruptPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(cli)

	// Length not a multiple of 8 is not a valid vector encoding.
	require.NoError(t, mr.Set("emb:bad", "12345"))
	_, ok := c.Get(context.Background(), "emb:bad")
	assert.False(t, ok)
}

func TestMakeKey(t *testing.T) {
	k1 := MakeKey("text-embedding-3-small", "hello")
	k2 := MakeKey("text-embedding-3-small", "hello")
	k3 := MakeKey("text-embedding-3-small", "world")
	k4 := MakeKey("text-embedding-3-large", "hello")

	assert.True(t, strings.HasPrefix(k1, "emb:"))
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}

func TestServiceDefaults(t *testing.T) {
	s := New("", Config{}, nil, zap.NewNop())
	assert.Equal(t, "text-embedding-3-small", s.Model())
}
