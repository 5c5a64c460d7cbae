package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, 12*time.Hour), mr
}

func TestClaimFirstWinsSecondLoses(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	first, err := g.Claim(ctx, "evt_1", "nonce-a")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := g.Claim(ctx, "evt_1", "nonce-a")
	require.NoError(t, err)
	assert.False(t, second)
}

func TestClaimScopedPerEvent(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	first, err := g.Claim(ctx, "evt_1", "nonce-a")
	require.NoError(t, err)
	require.True(t, first)

	// Same nonce under a different event is an independent claim.
	other, err := g.Claim(ctx, "evt_2", "nonce-a")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestClaimSetsRetentionTTL(t *testing.T) {
	g, mr := newGuard(t)

	_, err := g.Claim(context.Background(), "evt_1", "nonce-a")
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, mr.TTL("replay:evt_1:nonce-a"))
}

func TestClaimConcurrentExactlyOne(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Claim(ctx, "evt_1", "shared-nonce")
			if err == nil {
				results <- ok
			}
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	total := 0
	for ok := range results {
		total++
		if ok {
			wins++
		}
	}
	assert.Equal(t, 20, total)
	assert.Equal(t, 1, wins)
}
