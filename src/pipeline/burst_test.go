package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseBurstCounter(t *testing.T, c BurstCounter, key string) {
	t.Helper()
	ctx := context.Background()

	ok, count, err := c.Reserve(ctx, key, "o-1", start, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), count)

	ok, count, err = c.Reserve(ctx, key, "o-2", start.Add(4*time.Second), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), count)

	ok, _, err = c.Reserve(ctx, key+"-other", "o-3", start.Add(4*time.Second), 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, count, err = c.Reserve(ctx, key, "o-4", start.Add(5*time.Second), 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), count)

	// A released slot can be taken again.
	require.NoError(t, c.Release(ctx, key, "o-2"))
	ok, count, err = c.Reserve(ctx, key, "o-5", start.Add(6*time.Second), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), count)

	// o-1 slides out of the 10s window.
	ok, count, err = c.Reserve(ctx, key, "o-6", start.Add(12*time.Second), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), count)

	ok, count, err = c.Reserve(ctx, key, "o-7", start.Add(30*time.Second), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), count)
}

func TestMemoryBurstCounter(t *testing.T) {
	exerciseBurstCounter(t, NewMemoryBurstCounter(10*time.Second), "paper:1")
}

func TestMemoryBurstCounterZeroLimitAdmitsAll(t *testing.T) {
	c := NewMemoryBurstCounter(10 * time.Second)
	for i := 0; i < 10; i++ {
		ok, _, err := c.Reserve(context.Background(), "paper:1", fmt.Sprintf("o-%d", i), start, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestMemoryBurstCounterConcurrentReserve(t *testing.T) {
	c := NewMemoryBurstCounter(10 * time.Second)

	const workers = 50
	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _, err := c.Reserve(context.Background(), "paper:1", fmt.Sprintf("o-%d", i), start, 3)
			if err != nil || !ok {
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(3), admitted)
}

func TestRedisBurstCounter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	key := fmt.Sprintf("test:%d", time.Now().UnixNano())
	c := NewRedisBurstCounter(client, 10*time.Second)
	t.Cleanup(func() {
		client.Del(context.Background(), c.prefix+key, c.prefix+key+"-other")
	})
	exerciseBurstCounter(t, c, key)
}

func TestNewBurstCounter(t *testing.T) {
	c, err := NewBurstCounter(Config{BurstBackend: "memory", BurstWindow: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBurstCounter{}, c)

	c, err = NewBurstCounter(Config{BurstBackend: "redis", RedisAddr: "localhost:0", BurstWindow: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &RedisBurstCounter{}, c)

	_, err = NewBurstCounter(Config{BurstBackend: "etcd"})
	require.Error(t, err)
}
