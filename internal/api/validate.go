package api

import (
	"net/http"

	"github.com/ticketgate/backend/internal/gate"
)

type validateRequest struct {
	QRToken string `json:"qr_token"`
	EventID string `json:"event_id"`
}

// handleValidate runs one credential through the decision pipeline. The
// HTTP status is 200 for every decision; the body's status field carries
// the outcome. 5xx means no decision was made at all.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	body, err := s.pipeline.Validate(r.Context(), gate.Request{
		QRToken:        req.QRToken,
		EventID:        req.EventID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		IP:             clientIP(r),
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "validation temporarily unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
