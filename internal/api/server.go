// Package api is the HTTP surface: booking, session lookup, stats and
// health. No business logic lives here, only decoding, identity
// extraction and error-to-status mapping.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"focusmate/internal/schedule"
	"focusmate/internal/session"
	"focusmate/internal/stats"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// Registry is the connection bookkeeping the health endpoint reports on.
type Registry interface {
	Stats() map[string]int
}

// HealthChecker verifies a backing component is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server routes HTTP requests to the booking, stats and realtime layers.
type Server struct {
	sessions *session.Service
	stats    *stats.Service
	store    interfaces.SessionStore
	registry Registry
	health   HealthChecker
	ws       http.Handler
	router   *http.ServeMux
	started  time.Time
}

// NewServer wires the HTTP routes. ws is the WebSocket join handler;
// health may be nil when no checkable backend exists.
func NewServer(sessions *session.Service, statsSvc *stats.Service, store interfaces.SessionStore, registry Registry, health HealthChecker, ws http.Handler) *Server {
	s := &Server{
		sessions: sessions,
		stats:    statsSvc,
		store:    store,
		registry: registry,
		health:   health,
		ws:       ws,
		router:   http.NewServeMux(),
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/api/users/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUsers))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// identity extracts the acting user. Authentication is the fronting
// proxy's concern; the service trusts the X-User-ID header it forwards,
// with a query fallback for browser tooling.
func identity(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

type SessionResponse struct {
	Session     *types.Session            `json:"session"`
	Eligibility *schedule.JoinEligibility `json:"eligibility,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections,omitempty"`
	UptimeSecs  int            `json:"uptime_seconds"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleSessions covers the collection: book and list upcoming.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.bookSession(w, r)
	case http.MethodGet:
		s.listUpcoming(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionByID covers one session: lookup, cancel, end,
// eligibility.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	sessionID := parts[0]
	if sessionID == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		s.getSession(w, r, sessionID)
	case r.Method == http.MethodGet && action == "eligibility":
		s.getEligibility(w, r, sessionID)
	case r.Method == http.MethodPost && action == "cancel":
		s.cancelSession(w, r, sessionID)
	case r.Method == http.MethodPost && action == "end":
		s.endSession(w, r, sessionID)
	case r.Method == http.MethodDelete && action == "":
		s.cancelSession(w, r, sessionID)
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "stats" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.getUserStats(w, r, parts[0])
}

// bookSession creates a session and reports the matching outcome. The
// owner is always the authenticated caller, whatever the body says.
func (s *Server) bookSession(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if caller := identity(r); caller != "" {
		req.OwnerID = caller
	}

	result, err := s.sessions.Book(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (s *Server) listUpcoming(w http.ResponseWriter, r *http.Request) {
	userID := identity(r)
	if !types.IsValidUserID(userID) {
		s.sendError(w, "Valid user identity required", http.StatusBadRequest)
		return
	}

	sessions, err := s.sessions.Upcoming(r.Context(), userID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessions.Get(r.Context(), sessionID, identity(r))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	resp := SessionResponse{Session: sess}
	if elig, err := s.sessions.JoinEligibility(r.Context(), sessionID, identity(r)); err == nil {
		resp.Eligibility = elig
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) getEligibility(w http.ResponseWriter, r *http.Request, sessionID string) {
	elig, err := s.sessions.JoinEligibility(r.Context(), sessionID, identity(r))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(elig)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.Cancel(r.Context(), sessionID, identity(r)); err != nil {
		s.sendServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"message": "Session cancelled"})
}

// endSession completes a running session over HTTP, for clients whose
// socket already dropped. Elapsed time comes from the schedule; the
// live path through the controller is the accurate one.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	caller := identity(r)
	sess, err := s.sessions.Get(r.Context(), sessionID, caller)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if sess.OwnerID != caller {
		s.sendError(w, "Only the session owner may end it", http.StatusForbidden)
		return
	}

	elapsed := int(time.Since(sess.StartTime).Minutes())
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > sess.DurationMinutes {
		elapsed = sess.DurationMinutes
	}

	applied, err := s.store.CompleteSession(r.Context(), sessionID, elapsed, types.CompletedByOwner)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if !applied {
		s.sendError(w, "Session already ended", http.StatusConflict)
		return
	}
	s.stats.Invalidate(sess.OwnerID)
	if sess.PartnerID != nil {
		s.stats.Invalidate(*sess.PartnerID)
	}
	json.NewEncoder(w).Encode(map[string]string{"message": "Session completed"})
}

func (s *Server) getUserStats(w http.ResponseWriter, r *http.Request, userID string) {
	userStats, err := s.stats.UserStats(r.Context(), userID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(userStats)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	resp := HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Database:   dbStatus,
		UptimeSecs: int(time.Since(s.started).Seconds()),
	}
	if s.registry != nil {
		resp.Connections = s.registry.Stats()
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}

// sendServiceError maps the service error taxonomy onto HTTP statuses.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, types.ErrAccessDenied):
		s.sendError(w, "Access denied", http.StatusForbidden)
	case errors.Is(err, types.ErrConflict):
		s.sendError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, types.ErrStoreUnavailable):
		s.sendError(w, "Storage unavailable", http.StatusServiceUnavailable)
	case isValidationError(err):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		s.sendError(w, "Internal error", http.StatusInternalServerError)
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		types.ErrInvalidUserID,
		types.ErrInvalidDisplayName,
		types.ErrInvalidDuration,
		types.ErrEmptyGoal,
		types.ErrGoalTooLong,
		types.ErrNoStartTime,
		types.ErrStartTimeInPast,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
