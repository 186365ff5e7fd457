// Package ratelimit throttles inbound chat messages per user with a
// Redis-backed token bucket, so the budget holds across replicas.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config sizes the bucket. A user may burst Capacity messages and
// thereafter gains RefillTokens every RefillInterval.
type Config struct {
	Capacity       int           `yaml:"capacity"`
	RefillTokens   int           `yaml:"refill_tokens"`
	RefillInterval time.Duration `yaml:"refill_interval"`
	TTL            time.Duration `yaml:"ttl"`
	Prefix         string        `yaml:"prefix"`
}

// Normalize fills zero fields with workable defaults and keeps the
// TTL long enough that an idle bucket outlives its refill cycle.
func (c *Config) Normalize() {
	if c.Capacity < 1 {
		c.Capacity = 5
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = 2 * time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "chat-rl"
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
}

// bucketScript refills and drains the bucket atomically. State is a
// hash of {tokens, last_refill_ms} per key.
var bucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end

	local allowed = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return allowed
`)

// Limiter is the Redis-backed bucket. A Limiter with a nil client
// allows everything, matching the degrade-open posture taken when
// Redis is unreachable at startup.
type Limiter struct {
	rdb *redis.Client
	cfg Config
	now func() time.Time
}

func New(rdb *redis.Client, cfg Config) *Limiter {
	cfg.Normalize()
	return &Limiter{rdb: rdb, cfg: cfg, now: time.Now}
}

// Allow reports whether the keyed bucket has a token for one more
// message. Redis errors are returned so the caller can decide how to
// degrade.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.rdb == nil {
		return true, nil
	}
	args := []interface{}{
		l.now().UnixMilli(),
		l.cfg.Capacity,
		l.cfg.RefillTokens,
		l.cfg.RefillInterval.Milliseconds(),
		int64(l.cfg.TTL / time.Second),
	}
	allowed, err := bucketScript.Run(ctx, l.rdb, []string{l.cfg.Prefix + ":" + key}, args...).Int()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}
