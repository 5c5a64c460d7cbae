// Package store is the durable side of the gate: tickets, events,
// redemptions and the audit log, backed by PostgreSQL. The UNIQUE
// (ticket_id, event_id) constraint on redemptions is the sole authority for
// exactly-one redemption; everything upstream only reduces how often the
// database has to say no.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code raised when an insert hits a
// unique constraint.
const uniqueViolation = "23505"

type Ticket struct {
	ID      string
	EventID string
	OrgID   string
}

type Event struct {
	ID        string
	Name      string
	OrgID     string
	CreatedAt time.Time
}

// TicketStatus is a ticket joined with its redemption, for operator
// listings.
type TicketStatus struct {
	Ticket
	Redeemed   bool
	RedeemedAt *time.Time
}

// AuditEntry is one terminal decision record. TicketID is empty when the
// rejection happened before a ticket id could be extracted.
type AuditEntry struct {
	DecisionID string
	IP         string
	UserAgent  string
	EventID    string
	TicketID   string
	Status     string
	ReasonCode string
	CreatedAt  time.Time
	EventName  string // joined for audit listings, otherwise empty
}

// CommitResult is the outcome of a durable redemption attempt.
type CommitResult int

const (
	CommitAccepted CommitResult = iota // redemption and audit row written
	CommitReplay                       // UNIQUE(ticket, event) already held
	CommitFailed                       // store unavailable or transaction error
)

type Store struct {
	db *sql.DB
}

// Open connects to the durable store and verifies the connection.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			org_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			org_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_event ON tickets (event_id)`,
		`CREATE TABLE IF NOT EXISTS redemptions (
			id BIGSERIAL PRIMARY KEY,
			ticket_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			redeemed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT uniq_ticket_event UNIQUE (ticket_id, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id BIGSERIAL PRIMARY KEY,
			decision_id TEXT NOT NULL,
			ip TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			event_id TEXT NOT NULL,
			ticket_id TEXT,
			status TEXT NOT NULL,
			reason_code TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_logs (event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_logs (decision_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// FetchTicket returns the provisioned ticket, or nil when the id is
// unknown.
func (s *Store) FetchTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	t := &Ticket{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, org_id FROM tickets WHERE id = $1`, ticketID,
	).Scan(&t.ID, &t.EventID, &t.OrgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch ticket %s: %w", ticketID, err)
	}
	return t, nil
}

// CommitRedemption inserts the redemption and its ACCEPTED audit row in one
// transaction. The accepted audit line only exists if the redemption
// committed; a crashed transaction leaves neither. When the uniqueness
// constraint rejects the insert the whole transaction rolls back and the
// caller logs the rejection itself.
func (s *Store) CommitRedemption(ctx context.Context, ticketID, eventID, decisionID, ip, ua, reasonCode string) (CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CommitFailed, fmt.Errorf("begin redemption tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO redemptions (ticket_id, event_id) VALUES ($1, $2)`,
		ticketID, eventID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return CommitReplay, nil
		}
		return CommitFailed, fmt.Errorf("insert redemption: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_logs (decision_id, ip, user_agent, event_id, ticket_id, status, reason_code)
		 VALUES ($1, $2, $3, $4, $5, 'ACCEPTED', $6)`,
		decisionID, ip, ua, eventID, ticketID, reasonCode,
	)
	if err != nil {
		return CommitFailed, fmt.Errorf("insert accepted audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CommitFailed, fmt.Errorf("commit redemption: %w", err)
	}
	return CommitAccepted, nil
}

// WriteAudit appends one non-accepted terminal decision. An empty TicketID
// is stored as NULL.
func (s *Store) WriteAudit(ctx context.Context, e AuditEntry) error {
	ticketID := sql.NullString{String: e.TicketID, Valid: e.TicketID != ""}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (decision_id, ip, user_agent, event_id, ticket_id, status, reason_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.DecisionID, e.IP, e.UserAgent, e.EventID, ticketID, e.Status, e.ReasonCode,
	)
	if err != nil {
		return fmt.Errorf("write audit %s: %w", e.DecisionID, err)
	}
	return nil
}

// CreateEvent provisions an event and its tickets in one transaction.
func (s *Store) CreateEvent(ctx context.Context, ev Event, tickets []Ticket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin provisioning tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, name, org_id) VALUES ($1, $2, $3)`,
		ev.ID, ev.Name, ev.OrgID,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tickets (id, event_id, org_id) VALUES ($1, $2, $3)`)
	if err != nil {
		return fmt.Errorf("prepare ticket insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tickets {
		if _, err := stmt.ExecContext(ctx, t.ID, t.EventID, t.OrgID); err != nil {
			return fmt.Errorf("insert ticket %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit provisioning: %w", err)
	}
	return nil
}

// ListEvents returns events newest-first.
func (s *Store) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, org_id, created_at FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.OrgID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListTickets returns up to limit tickets for an event, each marked with
// its redemption state.
func (s *Store) ListTickets(ctx context.Context, eventID string, limit int) ([]TicketStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.event_id, t.org_id, r.redeemed_at
		 FROM tickets t
		 LEFT JOIN redemptions r ON r.ticket_id = t.id AND r.event_id = t.event_id
		 WHERE t.event_id = $1
		 ORDER BY t.id
		 LIMIT $2`,
		eventID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []TicketStatus
	for rows.Next() {
		var ts TicketStatus
		var redeemedAt sql.NullTime
		if err := rows.Scan(&ts.ID, &ts.EventID, &ts.OrgID, &redeemedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		if redeemedAt.Valid {
			ts.Redeemed = true
			ts.RedeemedAt = &redeemedAt.Time
		}
		tickets = append(tickets, ts)
	}
	return tickets, rows.Err()
}

// ListAudit returns audit entries newest-first, joined with event names.
// eventID filters to one event when non-empty.
func (s *Store) ListAudit(ctx context.Context, eventID string, limit int) ([]AuditEntry, error) {
	query := `SELECT a.decision_id, a.ip, a.user_agent, a.event_id, COALESCE(a.ticket_id, ''),
			a.status, a.reason_code, a.created_at, COALESCE(e.name, '')
		 FROM audit_logs a
		 LEFT JOIN events e ON e.id = a.event_id`
	args := []interface{}{}
	if eventID != "" {
		query += ` WHERE a.event_id = $1`
		args = append(args, eventID)
	}
	query += fmt.Sprintf(` ORDER BY a.created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.DecisionID, &e.IP, &e.UserAgent, &e.EventID, &e.TicketID,
			&e.Status, &e.ReasonCode, &e.CreatedAt, &e.EventName); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
