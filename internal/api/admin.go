package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ticketgate/backend/internal/gate"
	"github.com/ticketgate/backend/internal/store"
	"github.com/ticketgate/backend/internal/token"
)

// ticketWords feeds the human-readable ticket ids handed to operators.
var ticketWords = []string{
	"alpha", "beta", "gamma", "delta", "omega",
	"llama", "panda", "tiger", "eagle", "otter",
	"nova", "comet", "orbit", "pixel", "spark",
	"jade", "ember", "cobalt", "onyx", "ivory",
}

func genEventID() string {
	return "evt_" + uuid.NewString()[:8]
}

// genTicketID builds ids like ticket-ab12-ivory-001: a short event tag, a
// word, and the running number.
func genTicketID(eventID string, i int) string {
	short := eventID
	if len(eventID) > 4 {
		short = eventID[len(eventID)-8:][:4]
	}
	word := ticketWords[(i-1)%len(ticketWords)]
	return fmt.Sprintf("ticket-%s-%s-%03d", short, word, i)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type createEventRequest struct {
	Name        string `json:"name"`
	TicketCount int    `json:"ticket_count"`
	OrgID       string `json:"org_id"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid request body"})
		return
	}
	if req.OrgID == "" {
		req.OrgID = "org_1"
	}
	if req.TicketCount < 1 || req.TicketCount > 5000 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": "ticket_count must be between 1 and 5000"})
		return
	}

	eventID := genEventID()
	tickets := make([]store.Ticket, 0, req.TicketCount)
	for i := 1; i <= req.TicketCount; i++ {
		tickets = append(tickets, store.Ticket{
			ID:      genTicketID(eventID, i),
			EventID: eventID,
			OrgID:   req.OrgID,
		})
	}

	ev := store.Event{ID: eventID, Name: req.Name, OrgID: req.OrgID}
	if err := s.admin.CreateEvent(r.Context(), ev, tickets); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "provisioning failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"event_id":     eventID,
		"name":         req.Name,
		"ticket_count": req.TicketCount,
		"org_id":       req.OrgID,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.admin.ListEvents(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		return
	}

	out := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]interface{}{
			"event_id":   ev.ID,
			"name":       ev.Name,
			"org_id":     ev.OrgID,
			"created_at": ev.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]
	limit := intQuery(r, "limit", 500)

	tickets, err := s.admin.ListTickets(r.Context(), eventID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		return
	}

	out := make([]map[string]interface{}, 0, len(tickets))
	for _, t := range tickets {
		status := "UNUSED"
		var redeemedAt interface{}
		if t.Redeemed {
			status = "REDEEMED"
			redeemedAt = t.RedeemedAt.Format(time.RFC3339)
		}
		out = append(out, map[string]interface{}{
			"ticket_id":   t.ID,
			"event_id":    t.EventID,
			"org_id":      t.OrgID,
			"status":      status,
			"redeemed_at": redeemedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type scanRequest struct {
	EventID    string `json:"event_id"`
	TicketID   string `json:"ticket_id"`
	OrgID      string `json:"org_id"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// handleScan is the operator scan flow: the UI submits (event, ticket), the
// backend mints a real credential and drives it through the actual
// pipeline, so operator scans exercise the same gates as the public
// endpoint.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.OrgID == "" {
		req.OrgID = "org_1"
	}
	if req.TTLMinutes <= 0 {
		req.TTLMinutes = 60
	}

	raw, err := token.Mint(s.secret, req.TicketID, req.EventID, req.OrgID, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mint failed"})
		return
	}

	body, err := s.pipeline.Validate(r.Context(), gate.Request{
		QRToken:   raw,
		EventID:   req.EventID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "validation temporarily unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type offlineRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetOffline(w http.ResponseWriter, r *http.Request) {
	var req offlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.flag.Set(r.Context(), req.Enabled); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "flag store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"offline": req.Enabled})
}

func (s *Server) handleGetOffline(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.flag.Enabled(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "flag store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"offline": enabled})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 80)
	eventID := r.URL.Query().Get("event_id")

	entries, err := s.admin.ListAudit(r.Context(), eventID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		var ticketID interface{}
		if e.TicketID != "" {
			ticketID = e.TicketID
		}
		var eventName interface{}
		if e.EventName != "" {
			eventName = e.EventName
		}
		out = append(out, map[string]interface{}{
			"created_at":  e.CreatedAt.Format(time.RFC3339),
			"ticket_id":   ticketID,
			"event_id":    e.EventID,
			"event_name":  eventName,
			"status":      e.Status,
			"reason_code": e.ReasonCode,
			"decision_id": e.DecisionID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
