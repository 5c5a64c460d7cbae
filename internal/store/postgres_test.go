package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestFetchTicketHit(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery(`SELECT id, event_id, org_id FROM tickets`).
		WithArgs("ticket-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "org_id"}).
			AddRow("ticket-1", "evt_1", "org_1"))

	ticket, err := s.FetchTicket(context.Background(), "ticket-1")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "ticket-1", ticket.ID)
	assert.Equal(t, "evt_1", ticket.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchTicketMiss(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery(`SELECT id, event_id, org_id FROM tickets`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "org_id"}))

	ticket, err := s.FetchTicket(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, ticket)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRedemptionAccepted(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO redemptions`).
		WithArgs("ticket-1", "evt_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("d-1", "1.2.3.4", "gate-a", "evt_1", "ticket-1", "OK").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := s.CommitRedemption(context.Background(), "ticket-1", "evt_1", "d-1", "1.2.3.4", "gate-a", "OK")
	require.NoError(t, err)
	assert.Equal(t, CommitAccepted, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRedemptionUniqueViolationIsReplay(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO redemptions`).
		WithArgs("ticket-1", "evt_1").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uniq_ticket_event"})
	mock.ExpectRollback()

	res, err := s.CommitRedemption(context.Background(), "ticket-1", "evt_1", "d-1", "1.2.3.4", "gate-a", "OK")
	require.NoError(t, err)
	assert.Equal(t, CommitReplay, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRedemptionOtherErrorIsFailure(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO redemptions`).
		WithArgs("ticket-1", "evt_1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	res, err := s.CommitRedemption(context.Background(), "ticket-1", "evt_1", "d-1", "1.2.3.4", "gate-a", "OK")
	require.Error(t, err)
	assert.Equal(t, CommitFailed, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRedemptionAuditFailureRollsBack(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO redemptions`).
		WithArgs("ticket-1", "evt_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	res, err := s.CommitRedemption(context.Background(), "ticket-1", "evt_1", "d-1", "1.2.3.4", "gate-a", "OK")
	require.Error(t, err)
	assert.Equal(t, CommitFailed, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteAuditNullTicket(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("d-1", "1.2.3.4", "gate-a", "evt_1", nil, "REJECTED", "RATE_LIMITED").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.WriteAudit(context.Background(), AuditEntry{
		DecisionID: "d-1",
		IP:         "1.2.3.4",
		UserAgent:  "gate-a",
		EventID:    "evt_1",
		Status:     "REJECTED",
		ReasonCode: "RATE_LIMITED",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEventProvisionsTicketsInOneTx(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs("evt_1", "Launch Party", "org_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare(`INSERT INTO tickets`)
	mock.ExpectExec(`INSERT INTO tickets`).
		WithArgs("ticket-1", "evt_1", "org_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tickets`).
		WithArgs("ticket-2", "evt_1", "org_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.CreateEvent(context.Background(),
		Event{ID: "evt_1", Name: "Launch Party", OrgID: "org_1"},
		[]Ticket{
			{ID: "ticket-1", EventID: "evt_1", OrgID: "org_1"},
			{ID: "ticket-2", EventID: "evt_1", OrgID: "org_1"},
		})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTicketsJoinsRedemptions(t *testing.T) {
	s, mock := newStore(t)
	redeemedAt := time.Now()

	mock.ExpectQuery(`SELECT t.id, t.event_id, t.org_id, r.redeemed_at`).
		WithArgs("evt_1", 500).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "org_id", "redeemed_at"}).
			AddRow("ticket-1", "evt_1", "org_1", redeemedAt).
			AddRow("ticket-2", "evt_1", "org_1", nil))

	tickets, err := s.ListTickets(context.Background(), "evt_1", 500)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.True(t, tickets[0].Redeemed)
	require.NotNil(t, tickets[0].RedeemedAt)
	assert.False(t, tickets[1].Redeemed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditFiltersByEvent(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery(`SELECT a.decision_id`).
		WithArgs("evt_1", 80).
		WillReturnRows(sqlmock.NewRows([]string{
			"decision_id", "ip", "user_agent", "event_id", "ticket_id",
			"status", "reason_code", "created_at", "name",
		}).AddRow("d-1", "1.2.3.4", "gate-a", "evt_1", "ticket-1",
			"ACCEPTED", "OK", time.Now(), "Launch Party"))

	entries, err := s.ListAudit(context.Background(), "evt_1", 80)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Launch Party", entries[0].EventName)
	assert.Equal(t, "OK", entries[0].ReasonCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
