// Package replay is the one-shot nonce guard. A nonce may be presented at
// most once per event; the first claim wins and every later claim for the
// same (event, nonce) is refused for the retention window.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Guard {
	return &Guard{rdb: rdb, ttl: ttl}
}

// Claim atomically marks (eventID, nonce) as seen. It returns true exactly
// once across all callers; concurrent claims race on a single SET NX, so at
// most one of them proceeds past the guard.
func (g *Guard) Claim(ctx context.Context, eventID, nonce string) (bool, error) {
	key := "replay:" + eventID + ":" + nonce
	first, err := g.rdb.SetNX(ctx, key, "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay claim %s: %w", key, err)
	}
	return first, nil
}
