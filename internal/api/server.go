// Package api exposes the gate over REST/JSON: the public /validate
// endpoint plus the operator surface (provisioning, scan, offline toggle,
// audit browsing).
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ticketgate/backend/internal/gate"
	"github.com/ticketgate/backend/internal/queue"
	"github.com/ticketgate/backend/internal/store"
)

// AdminStore is the slice of the durable store the operator surface uses.
type AdminStore interface {
	CreateEvent(ctx context.Context, ev store.Event, tickets []store.Ticket) error
	ListEvents(ctx context.Context) ([]store.Event, error)
	ListTickets(ctx context.Context, eventID string, limit int) ([]store.TicketStatus, error)
	ListAudit(ctx context.Context, eventID string, limit int) ([]store.AuditEntry, error)
	Ping(ctx context.Context) error
}

// Server wires the pipeline and operator surface into one router.
type Server struct {
	router   *mux.Router
	pipeline *gate.Pipeline
	admin    AdminStore
	flag     *queue.OfflineFlag
	rdb      *redis.Client
	secret   []byte
}

func NewServer(pipeline *gate.Pipeline, admin AdminStore, flag *queue.OfflineFlag, rdb *redis.Client, secret []byte) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		pipeline: pipeline,
		admin:    admin,
		flag:     flag,
		rdb:      rdb,
		secret:   secret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(corsMiddleware)
	s.router.Use(loggingMiddleware)

	s.router.HandleFunc("/validate", s.handleValidate).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/events", s.handleCreateEvent).Methods("POST")
	admin.HandleFunc("/events", s.handleListEvents).Methods("GET")
	admin.HandleFunc("/events/{event_id}/tickets", s.handleListTickets).Methods("GET")
	admin.HandleFunc("/scan", s.handleScan).Methods("POST")
	admin.HandleFunc("/offline", s.handleSetOffline).Methods("POST")
	admin.HandleFunc("/offline", s.handleGetOffline).Methods("GET")
	admin.HandleFunc("/audit", s.handleAudit).Methods("GET")
}

// Handler returns the root handler; the caller owns the http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	redisStatus := "connected"
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		redisStatus = "error"
	}
	dbStatus := "connected"
	if err := s.admin.Ping(ctx); err != nil {
		dbStatus = "error"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"service":  "ticket-gate",
		"redis":    redisStatus,
		"database": dbStatus,
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		log.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			time.Since(start).Milliseconds(),
		)
	})
}
