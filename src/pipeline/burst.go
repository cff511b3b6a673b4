package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BurstCounter admits at most limit entries per key over a trailing window.
// Reserve checks and records in one step so concurrent submissions cannot
// all observe the same count; Release gives a slot back when the order is
// not admitted after all.
type BurstCounter interface {
	Reserve(ctx context.Context, key, member string, now time.Time, limit int64) (bool, int64, error)
	Release(ctx context.Context, key, member string) error
}

type burstHit struct {
	at     time.Time
	member string
}

// MemoryBurstCounter is a sliding window held in process memory. It is only
// correct while a single process admits orders; run RedisBurstCounter when
// several instances share the same users.
type MemoryBurstCounter struct {
	mu     sync.Mutex
	window time.Duration
	hits   map[string][]burstHit
}

func NewMemoryBurstCounter(window time.Duration) *MemoryBurstCounter {
	return &MemoryBurstCounter{
		window: window,
		hits:   make(map[string][]burstHit),
	}
}

// Reserve returns whether member was admitted and the window size after the
// call. A limit of 0 or less admits everything.
func (c *MemoryBurstCounter) Reserve(_ context.Context, key, member string, now time.Time, limit int64) (bool, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.prune(key, now)
	if limit > 0 && int64(len(hits)) >= limit {
		return false, int64(len(hits)), nil
	}
	c.hits[key] = append(hits, burstHit{at: now, member: member})
	return true, int64(len(hits) + 1), nil
}

func (c *MemoryBurstCounter) Release(_ context.Context, key, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.hits[key]
	for i := range hits {
		if hits[i].member == member {
			hits = append(hits[:i:i], hits[i+1:]...)
			break
		}
	}
	if len(hits) == 0 {
		delete(c.hits, key)
		return nil
	}
	c.hits[key] = hits
	return nil
}

// prune drops hits at or before now-window. Caller holds mu.
func (c *MemoryBurstCounter) prune(key string, now time.Time) []burstHit {
	hits := c.hits[key]
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(hits) && !hits[i].at.After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) == 0 {
		delete(c.hits, key)
		return nil
	}
	return hits
}

// reserveScript prunes, counts and conditionally adds in one round trip.
// KEYS[1] window key; ARGV cutoff, score, member, limit, ttl ms.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, 0, ARGV[1])
local count = redis.call('ZCARD', key)
local limit = tonumber(ARGV[4])
if limit > 0 and count >= limit then
  return {0, count}
end
redis.call('ZADD', key, ARGV[2], ARGV[3])
redis.call('PEXPIRE', key, ARGV[5])
return {1, count + 1}
`)

// RedisBurstCounter keeps one sorted set per key, scored by admission time in
// nanoseconds, so every process admitting orders sees the same window.
type RedisBurstCounter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisBurstCounter(client *redis.Client, window time.Duration) *RedisBurstCounter {
	return &RedisBurstCounter{client: client, window: window, prefix: "tradeledger:burst:"}
}

func (c *RedisBurstCounter) Reserve(ctx context.Context, key, member string, now time.Time, limit int64) (bool, int64, error) {
	cutoff := strconv.FormatInt(now.Add(-c.window).UnixNano(), 10)
	score := strconv.FormatInt(now.UnixNano(), 10)
	ttl := (c.window + time.Minute).Milliseconds()

	res, err := reserveScript.Run(ctx, c.client, []string{c.prefix + key}, cutoff, score, member, limit, ttl).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to reserve burst slot: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return false, 0, fmt.Errorf("unexpected burst script result: %v", res)
	}
	admitted, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	return admitted == 1, count, nil
}

func (c *RedisBurstCounter) Release(ctx context.Context, key, member string) error {
	if err := c.client.ZRem(ctx, c.prefix+key, member).Err(); err != nil {
		return fmt.Errorf("failed to release burst slot: %w", err)
	}
	return nil
}

// NewBurstCounter builds the counter selected by config.BurstBackend.
func NewBurstCounter(config Config) (BurstCounter, error) {
	switch config.BurstBackend {
	case "", "memory":
		return NewMemoryBurstCounter(config.BurstWindow), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		return NewRedisBurstCounter(client, config.BurstWindow), nil
	}
	return nil, fmt.Errorf("unsupported burst backend %q", config.BurstBackend)
}
