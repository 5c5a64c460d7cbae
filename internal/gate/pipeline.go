// Package gate runs the validation decision pipeline. Each request passes
// an ordered sequence of guards; the first one that resolves produces the
// terminal decision, which is audited, memoed under the client's
// idempotency key, and returned.
//
// Gate order is deliberate: the idempotency memo comes first so a retried
// request never double-counts against the rate limiter or the nonce guard;
// the rate limiter precedes token verification so signature brute-forcing
// is throttled; the nonce guard precedes the durable store so replay floods
// never reach it.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ticketgate/backend/internal/circuitbreaker"
	"github.com/ticketgate/backend/internal/queue"
	"github.com/ticketgate/backend/internal/store"
	"github.com/ticketgate/backend/internal/token"
)

// Collaborator interfaces. Concrete implementations live in their own
// packages; tests substitute fakes.

type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

type RateLimiter interface {
	Admit(ctx context.Context, origin string) (bool, error)
}

type IdempotencyCache interface {
	Lookup(ctx context.Context, key string) ([]byte, error)
	Memo(ctx context.Context, key string, reply []byte) error
}

type ReplayGuard interface {
	Claim(ctx context.Context, eventID, nonce string) (bool, error)
}

type OfflineFlag interface {
	Enabled(ctx context.Context) (bool, error)
}

type OfflineQueue interface {
	Enqueue(ctx context.Context, e queue.Entry) (string, error)
}

type RedemptionStore interface {
	FetchTicket(ctx context.Context, ticketID string) (*store.Ticket, error)
	CommitRedemption(ctx context.Context, ticketID, eventID, decisionID, ip, ua, reasonCode string) (store.CommitResult, error)
	WriteAudit(ctx context.Context, e store.AuditEntry) error
}

// Request is one validation attempt: the credential and target event from
// the body, the idempotency key from the header, origin details from the
// connection.
type Request struct {
	QRToken        string
	EventID        string
	IdempotencyKey string
	IP             string
	UserAgent      string
}

// Deps wires the pipeline's collaborators. Breaker is optional; without it
// every request pays the full durable-store timeout while the store is
// down.
type Deps struct {
	Verifier TokenVerifier
	Limiter  RateLimiter
	Idem     IdempotencyCache
	Replay   ReplayGuard
	Offline  OfflineFlag
	Queue    OfflineQueue
	Store    RedemptionStore
	Breaker  *circuitbreaker.Breaker
	Metrics  *Metrics
}

// Pipeline orchestrates one decision per request. It holds no per-request
// state of its own; everything cross-request lives in the two stores.
type Pipeline struct {
	deps Deps
}

func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Validate runs the gate sequence and returns the serialized decision
// reply. A non-nil error means an ephemeral-store failure prevented any
// decision; the caller answers 5xx and nothing was audited or memoed.
func (p *Pipeline) Validate(ctx context.Context, req Request) ([]byte, error) {
	start := time.Now()
	decisionID := uuid.NewString()

	// Gate 1: a memoed reply is returned verbatim, with no side effects.
	if req.IdempotencyKey != "" {
		cached, err := p.deps.Idem.Lookup(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			p.deps.Metrics.IdempotentHits.Inc()
			return cached, nil
		}
	}

	// Gate 2: per-origin admission.
	admitted, err := p.deps.Limiter.Admit(ctx, req.IP)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return p.finish(ctx, req, decisionID, start, StatusRejected, ReasonRateLimited, "", true)
	}

	// Gate 3: cryptographic verification.
	claims, err := p.deps.Verifier.Verify(req.QRToken)
	if err != nil {
		reason := ReasonInvalidToken
		if errors.Is(err, token.ErrExpired) {
			reason = ReasonExpired
		}
		return p.finish(ctx, req, decisionID, start, StatusRejected, reason, "", true)
	}

	// Gate 4: the token must target the event being validated.
	if claims.EventID != req.EventID {
		return p.finish(ctx, req, decisionID, start, StatusRejected, ReasonWrongEvent, claims.TicketID, true)
	}

	// Gate 5: one-shot nonce claim.
	first, err := p.deps.Replay.Claim(ctx, req.EventID, claims.Nonce)
	if err != nil {
		return nil, err
	}
	if !first {
		return p.finish(ctx, req, decisionID, start, StatusRejected, ReasonReplay, claims.TicketID, true)
	}

	// Gate 6: operator-set offline mode defers the durable write.
	offline, err := p.deps.Offline.Enabled(ctx)
	if err != nil {
		return nil, err
	}
	if offline {
		return p.deferDecision(ctx, req, decisionID, start, claims.TicketID)
	}

	// Gate 7: durable redemption, guarded by the breaker.
	if p.deps.Breaker != nil {
		if err := p.deps.Breaker.Allow(); err != nil {
			slog.Warn("durable store breaker rejected attempt", "decision_id", decisionID, "error", err)
			return p.deferDecision(ctx, req, decisionID, start, claims.TicketID)
		}
	}

	ticket, err := p.deps.Store.FetchTicket(ctx, claims.TicketID)
	if err != nil {
		p.recordDurable(false)
		slog.Warn("ticket fetch failed, deferring decision", "decision_id", decisionID, "error", err)
		return p.deferDecision(ctx, req, decisionID, start, claims.TicketID)
	}
	if ticket == nil {
		// Verified signature over an unprovisioned ticket.
		p.recordDurable(true)
		return p.finish(ctx, req, decisionID, start, StatusRejected, ReasonInvalidToken, claims.TicketID, true)
	}

	res, err := p.deps.Store.CommitRedemption(ctx, claims.TicketID, req.EventID, decisionID, req.IP, req.UserAgent, ReasonOK)
	switch res {
	case store.CommitAccepted:
		p.recordDurable(true)
		// The commit wrote the ACCEPTED audit row inside its transaction.
		return p.finish(ctx, req, decisionID, start, StatusAccepted, ReasonOK, claims.TicketID, false)
	case store.CommitReplay:
		p.recordDurable(true)
		return p.finish(ctx, req, decisionID, start, StatusRejected, ReasonReplay, claims.TicketID, true)
	default:
		p.recordDurable(false)
		slog.Warn("redemption commit failed, deferring decision", "decision_id", decisionID, "error", err)
		return p.deferDecision(ctx, req, decisionID, start, claims.TicketID)
	}
}

// deferDecision queues the validation for the reconciler and answers
// PENDING_SYNC. Used for explicit offline mode and as the degraded-mode
// fallback when the durable store misbehaves.
func (p *Pipeline) deferDecision(ctx context.Context, req Request, decisionID string, start time.Time, ticketID string) ([]byte, error) {
	_, err := p.deps.Queue.Enqueue(ctx, queue.Entry{
		DecisionID: decisionID,
		EventID:    req.EventID,
		TicketID:   ticketID,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	p.deps.Metrics.Deferrals.Inc()
	return p.finish(ctx, req, decisionID, start, StatusPendingSync, ReasonSystemOffline, ticketID, true)
}

// finish serializes the decision, memos it when an idempotency key was
// supplied, writes the audit row unless the redemption transaction already
// did, and records metrics.
func (p *Pipeline) finish(ctx context.Context, req Request, decisionID string, start time.Time, status, reason, ticketID string, writeAudit bool) ([]byte, error) {
	d := Decision{
		Status:     status,
		ReasonCode: reason,
		DecisionID: decisionID,
	}
	if ticketID != "" {
		d.TicketID = &ticketID
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}

	if req.IdempotencyKey != "" {
		if err := p.deps.Idem.Memo(ctx, req.IdempotencyKey, body); err != nil {
			return nil, err
		}
	}

	if writeAudit {
		audit := store.AuditEntry{
			DecisionID: decisionID,
			IP:         req.IP,
			UserAgent:  req.UserAgent,
			EventID:    req.EventID,
			TicketID:   ticketID,
			Status:     status,
			ReasonCode: reason,
		}
		if err := p.deps.Store.WriteAudit(ctx, audit); err != nil {
			// Best effort: the decision stands even if the audit trail
			// hiccups.
			slog.Warn("audit write failed", "decision_id", decisionID, "error", err)
		}
	}

	p.deps.Metrics.Decisions.WithLabelValues(status, reason).Inc()
	p.deps.Metrics.Duration.Observe(time.Since(start).Seconds())
	return body, nil
}

func (p *Pipeline) recordDurable(success bool) {
	if p.deps.Breaker != nil {
		p.deps.Breaker.Record(success)
	}
}
