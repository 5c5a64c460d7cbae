// Package queue holds the degraded-mode plumbing: the append-only stream of
// deferred decisions, the reconciler's resume cursor, and the operator's
// offline flag. All three live in the same ephemeral store.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKey  = "offline_validations"
	cursorKey  = "worker:last_id"
	offlineKey = "cfg:offline_mode"

	// DefaultCursor reads the stream from its beginning.
	DefaultCursor = "0-0"
)

// Entry is one deferred validation decision awaiting durable commit.
type Entry struct {
	DecisionID string
	EventID    string
	TicketID   string
	IP         string
	UserAgent  string
}

// Message pairs an Entry with its store-assigned stream id.
type Message struct {
	ID    string
	Entry Entry
}

type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue appends the entry to the stream and returns its assigned id.
// Stream ids are monotonic, so drain order matches enqueue order.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"decision_id": e.DecisionID,
			"event_id":    e.EventID,
			"ticket_id":   e.TicketID,
			"ip":          e.IP,
			"ua":          e.UserAgent,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue offline validation: %w", err)
	}
	return id, nil
}

// Read returns up to count entries with id greater than cursor, waiting up
// to block for new entries. A negative block makes the read non-blocking.
// An empty batch (timeout) is not an error.
func (q *Queue) Read(ctx context.Context, cursor string, count int64, block time.Duration) ([]Message, error) {
	streams, err := q.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey, cursor},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offline validations: %w", err)
	}

	var msgs []Message
	for _, stream := range streams {
		for _, m := range stream.Messages {
			msgs = append(msgs, Message{ID: m.ID, Entry: entryFromValues(m.Values)})
		}
	}
	return msgs, nil
}

// Ack removes a drained entry from the stream.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := q.rdb.XDel(ctx, streamKey, id).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// SaveCursor persists the highest durably processed stream id. Called after
// Ack: a crash between the two re-delivers the last entry, and the durable
// uniqueness constraint turns the duplicate into REPLAY_ON_SYNC.
func (q *Queue) SaveCursor(ctx context.Context, id string) error {
	if err := q.rdb.Set(ctx, cursorKey, id, 0).Err(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// LoadCursor returns the saved cursor, or DefaultCursor when none exists.
func (q *Queue) LoadCursor(ctx context.Context) (string, error) {
	val, err := q.rdb.Get(ctx, cursorKey).Result()
	if errors.Is(err, redis.Nil) {
		return DefaultCursor, nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return val, nil
}

// Len reports the number of entries still queued.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.XLen(ctx, streamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func entryFromValues(values map[string]interface{}) Entry {
	str := func(k string) string {
		if v, ok := values[k].(string); ok {
			return v
		}
		return ""
	}
	return Entry{
		DecisionID: str("decision_id"),
		EventID:    str("event_id"),
		TicketID:   str("ticket_id"),
		IP:         str("ip"),
		UserAgent:  str("ua"),
	}
}

// OfflineFlag is the operator-set switch that reroutes durable writes to
// the queue. Absence of the key falls back to the environment default.
type OfflineFlag struct {
	rdb *redis.Client
	def bool
}

func NewOfflineFlag(rdb *redis.Client, def bool) *OfflineFlag {
	return &OfflineFlag{rdb: rdb, def: def}
}

func (f *OfflineFlag) Enabled(ctx context.Context) (bool, error) {
	val, err := f.rdb.Get(ctx, offlineKey).Result()
	if errors.Is(err, redis.Nil) {
		return f.def, nil
	}
	if err != nil {
		return false, fmt.Errorf("read offline flag: %w", err)
	}
	return strings.EqualFold(val, "true"), nil
}

func (f *OfflineFlag) Set(ctx context.Context, enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	if err := f.rdb.Set(ctx, offlineKey, val, 0).Err(); err != nil {
		return fmt.Errorf("set offline flag: %w", err)
	}
	return nil
}
