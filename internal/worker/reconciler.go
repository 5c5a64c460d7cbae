// Package worker drains the offline queue into the durable store once the
// gate is back online. The drain is at-least-once; the durable uniqueness
// constraint turns redelivered entries into REPLAY_ON_SYNC rejections, so
// each ticket still redeems exactly once.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ticketgate/backend/internal/gate"
	"github.com/ticketgate/backend/internal/queue"
	"github.com/ticketgate/backend/internal/store"
)

// DeferredQueue is the slice of the queue surface the reconciler consumes.
type DeferredQueue interface {
	Read(ctx context.Context, cursor string, count int64, block time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, id string) error
	SaveCursor(ctx context.Context, id string) error
	LoadCursor(ctx context.Context) (string, error)
}

type OfflineFlag interface {
	Enabled(ctx context.Context) (bool, error)
}

type RedemptionStore interface {
	CommitRedemption(ctx context.Context, ticketID, eventID, decisionID, ip, ua, reasonCode string) (store.CommitResult, error)
	WriteAudit(ctx context.Context, e store.AuditEntry) error
}

// Metrics holds the Prometheus metrics for the reconciler.
type Metrics struct {
	Synced *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Synced: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_synced_total",
				Help: "Queued decisions drained into the durable store, by outcome",
			},
			[]string{"result"},
		),
	}
}

// Config tunes the drain loop.
type Config struct {
	BatchSize int
	Block     time.Duration // max wait per read when the queue is empty
	Poll      time.Duration // sleep between checks while offline
}

func DefaultConfig() Config {
	return Config{
		BatchSize: 50,
		Block:     5 * time.Second,
		Poll:      time.Second,
	}
}

// Reconciler is the independent control loop behind the gate's offline
// mode.
type Reconciler struct {
	queue   DeferredQueue
	flag    OfflineFlag
	store   RedemptionStore
	cfg     Config
	metrics *Metrics
}

func New(q DeferredQueue, flag OfflineFlag, s RedemptionStore, cfg Config, m *Metrics) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultConfig().Block
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultConfig().Poll
	}
	return &Reconciler{queue: q, flag: flag, store: s, cfg: cfg, metrics: m}
}

// Run drives the drain loop until the context is cancelled. It resumes
// from the persisted cursor so a backlog survives restarts.
func (r *Reconciler) Run(ctx context.Context) error {
	cursor, err := r.queue.LoadCursor(ctx)
	if err != nil {
		return err
	}
	slog.Info("reconciler started", "cursor", cursor)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		offline, err := r.flag.Enabled(ctx)
		if err != nil {
			slog.Warn("offline flag read failed", "error", err)
			r.sleep(ctx, r.cfg.Poll)
			continue
		}
		if offline {
			r.sleep(ctx, r.cfg.Poll)
			continue
		}

		cursor, err = r.DrainOnce(ctx, cursor)
		if err != nil {
			slog.Warn("drain pass failed", "cursor", cursor, "error", err)
			r.sleep(ctx, r.cfg.Poll)
		}
	}
}

// DrainOnce reads one batch from the cursor and applies it, returning the
// new cursor. Processing stops at the first durable-store failure; the
// failed entry stays queued and the cursor does not advance past it.
func (r *Reconciler) DrainOnce(ctx context.Context, cursor string) (string, error) {
	msgs, err := r.queue.Read(ctx, cursor, int64(r.cfg.BatchSize), r.cfg.Block)
	if err != nil {
		return cursor, err
	}

	for _, msg := range msgs {
		if err := r.applyOne(ctx, msg.Entry); err != nil {
			return cursor, err
		}

		// Ack before persisting the cursor: a crash in between
		// re-delivers the entry, which the uniqueness constraint
		// resolves as REPLAY_ON_SYNC.
		if err := r.queue.Ack(ctx, msg.ID); err != nil {
			return cursor, err
		}
		cursor = msg.ID
		if err := r.queue.SaveCursor(ctx, cursor); err != nil {
			return cursor, err
		}
	}
	return cursor, nil
}

func (r *Reconciler) applyOne(ctx context.Context, e queue.Entry) error {
	res, err := r.store.CommitRedemption(ctx, e.TicketID, e.EventID, e.DecisionID, e.IP, e.UserAgent, gate.ReasonOKSynced)
	switch res {
	case store.CommitAccepted:
		slog.Info("synced deferred decision", "decision_id", e.DecisionID, "ticket_id", e.TicketID, "event_id", e.EventID)
		r.count("ok_synced")
		return nil
	case store.CommitReplay:
		slog.Info("replay on sync", "decision_id", e.DecisionID, "ticket_id", e.TicketID, "event_id", e.EventID)
		audit := store.AuditEntry{
			DecisionID: e.DecisionID,
			IP:         e.IP,
			UserAgent:  e.UserAgent,
			EventID:    e.EventID,
			TicketID:   e.TicketID,
			Status:     gate.StatusRejected,
			ReasonCode: gate.ReasonReplayOnSync,
		}
		if err := r.store.WriteAudit(ctx, audit); err != nil {
			return err
		}
		r.count("replay_on_sync")
		return nil
	default:
		return err
	}
}

func (r *Reconciler) count(result string) {
	if r.metrics != nil {
		r.metrics.Synced.WithLabelValues(result).Inc()
	}
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
