// Package idempotency memoizes decision replies by client-supplied key so a
// retried request gets the byte-identical answer it got the first time.
// Keys are opaque untrusted strings; the memo stores the reply actually
// sent, never a recomputation.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Lookup returns the memoed reply bytes, or nil when no memo exists for the
// key within its TTL window.
func (c *Cache) Lookup(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, "idem:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return raw, nil
}

// Memo stores the exact reply bytes under the key for the cache TTL.
func (c *Cache) Memo(ctx context.Context, key string, reply []byte) error {
	if err := c.rdb.Set(ctx, "idem:"+key, reply, c.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency memo: %w", err)
	}
	return nil
}
