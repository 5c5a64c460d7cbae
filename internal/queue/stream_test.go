package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), rdb
}

func TestEnqueueReadOrdering(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	first := Entry{DecisionID: "d-1", EventID: "evt_1", TicketID: "ticket-1", IP: "1.1.1.1", UserAgent: "gate-a"}
	second := Entry{DecisionID: "d-2", EventID: "evt_1", TicketID: "ticket-2", IP: "2.2.2.2", UserAgent: "gate-b"}

	id1, err := q.Enqueue(ctx, first)
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	msgs, err := q.Read(ctx, DefaultCursor, 50, -1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id1, msgs[0].ID)
	assert.Equal(t, first, msgs[0].Entry)
	assert.Equal(t, id2, msgs[1].ID)
	assert.Equal(t, second, msgs[1].Entry)
}

func TestReadFromCursorSkipsProcessed(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, Entry{DecisionID: "d-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Entry{DecisionID: "d-2"})
	require.NoError(t, err)

	msgs, err := q.Read(ctx, id1, 50, -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "d-2", msgs[0].Entry.DecisionID)
}

func TestReadEmptyIsNotAnError(t *testing.T) {
	q, _ := newQueue(t)

	msgs, err := q.Read(context.Background(), DefaultCursor, 50, -1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAckRemovesEntry(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Entry{DecisionID: "d-1"})
	require.NoError(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, q.Ack(ctx, id))

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCursorRoundTrip(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	cursor, err := q.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultCursor, cursor)

	require.NoError(t, q.SaveCursor(ctx, "1700000000000-3"))

	cursor, err = q.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-3", cursor)
}

func TestOfflineFlagDefault(t *testing.T) {
	_, rdb := newQueue(t)
	ctx := context.Background()

	offByDefault := NewOfflineFlag(rdb, false)
	enabled, err := offByDefault.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	onByDefault := NewOfflineFlag(rdb, true)
	enabled, err = onByDefault.Enabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled, "absent key falls back to the environment default")
}

func TestOfflineFlagSetOverridesDefault(t *testing.T) {
	_, rdb := newQueue(t)
	ctx := context.Background()

	flag := NewOfflineFlag(rdb, true)
	require.NoError(t, flag.Set(ctx, false))

	enabled, err := flag.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, flag.Set(ctx, true))
	enabled, err = flag.Enabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}
