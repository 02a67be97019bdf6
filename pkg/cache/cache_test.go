package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClaimer(t *testing.T) (Claimer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisClaimerWithClient(client, "test:")
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func claimerCases(t *testing.T, c Claimer) {
	ctx := context.Background()

	ok, err := c.Acquire(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Acquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held claim")

	// 非持有者释放无效
	require.NoError(t, c.Release(ctx, "k", "b"))
	ok, err = c.Acquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, "k", "a"))
	ok, err = c.Acquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGoCacheClaimer(t *testing.T) {
	claimerCases(t, NewGoCacheClaimer("test:"))
}

func TestRedisClaimer(t *testing.T) {
	c, _ := newMiniredisClaimer(t)
	claimerCases(t, c)
}

func TestRedisClaimerExpires(t *testing.T) {
	c, mr := newMiniredisClaimer(t)
	ctx := context.Background()

	ok, err := c.Acquire(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = c.Acquire(ctx, "k", "b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGoCacheClaimerSingleWinner(t *testing.T) {
	c := NewGoCacheClaimer("")
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := c.Acquire(context.Background(), "k", string(rune('a'+i)), time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestNewClaimer(t *testing.T) {
	c, err := NewClaimer(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewClaimer(Config{Type: "memcached"})
	assert.Error(t, err)
}
