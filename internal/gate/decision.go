package gate

// Terminal statuses for a validation decision.
const (
	StatusAccepted    = "ACCEPTED"
	StatusRejected    = "REJECTED"
	StatusPendingSync = "PENDING_SYNC"
)

// Reason codes are stable strings; external log consumers depend on them.
const (
	ReasonOK            = "OK"
	ReasonOKSynced      = "OK_SYNCED"
	ReasonRateLimited   = "RATE_LIMITED"
	ReasonInvalidToken  = "INVALID_TOKEN"
	ReasonExpired       = "EXPIRED"
	ReasonWrongEvent    = "WRONG_EVENT"
	ReasonReplay        = "REPLAY"
	ReasonReplayOnSync  = "REPLAY_ON_SYNC"
	ReasonSystemOffline = "SYSTEM_OFFLINE"
)

// Decision is the reply body for one /validate request. TicketID is null
// when the rejection happened before a ticket id could be extracted.
type Decision struct {
	Status     string  `json:"status"`
	ReasonCode string  `json:"reason_code"`
	TicketID   *string `json:"ticket_id"`
	DecisionID string  `json:"decision_id"`
}
