// Package ratelimit implements the per-origin admission bucket. Bucket
// state lives in the ephemeral store so every gate replica throttles the
// same view of an origin; the read-refill-take step runs as a single
// server-side script, which keeps the update serializable per key.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript refills the bucket from elapsed wall-time and takes one token
// if at least one is available. Returns 1 when admitted, 0 when drained.
// The bucket hash expires after an hour idle.
var admitScript = redis.NewScript(`
local tokens, last
local data = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if data[1] then tokens = tonumber(data[1]) else tokens = capacity end
if data[2] then last = tonumber(data[2]) else last = now end

tokens = math.min(capacity, tokens + (now - last) * refill)

local allowed = 0
if tokens >= 1.0 then
  tokens = tokens - 1.0
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', now)
redis.call('EXPIRE', KEYS[1], 3600)
return allowed
`)

// Limiter is a token bucket keyed by request origin.
type Limiter struct {
	rdb          *redis.Client
	capacity     int
	refillPerSec float64

	now func() time.Time
}

func New(rdb *redis.Client, capacity int, refillPerSec float64) *Limiter {
	return &Limiter{
		rdb:          rdb,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		now:          time.Now,
	}
}

// Admit reports whether one more request from origin fits in the bucket.
// The error is non-nil only when the ephemeral store call itself fails;
// callers treat that as fatal to the request rather than admitting
// unthrottled.
func (l *Limiter) Admit(ctx context.Context, origin string) (bool, error) {
	now := float64(l.now().UnixNano()) / float64(time.Second)

	res, err := admitScript.Run(ctx, l.rdb,
		[]string{"rl:" + origin},
		l.capacity, l.refillPerSec, now,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate bucket %s: %w", origin, err)
	}
	return res == 1, nil
}
