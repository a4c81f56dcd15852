package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"focusmate/internal/session"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

const (
	historyReplayLimit = 50

	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is the deployment's concern, behind its proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// SessionHub is what the handler needs from the hub: participant
// lifecycle plus command dispatch.
type SessionHub interface {
	Join(conn *Connection, displayName string) error
	Leave(userID string) error
	Dispatch(userID string, cmd Command) error
}

// Command is the client-to-server message shape. The router defines
// which command types exist and who may send them.
type Command struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

// Handler upgrades join requests, admits them against the session's
// join window, and pumps client commands into the hub.
type Handler struct {
	registry *Registry
	sessions *session.Service
	store    interfaces.SessionStore
	hub      SessionHub
}

func NewHandler(registry *Registry, sessions *session.Service, store interfaces.SessionStore, hub SessionHub) *Handler {
	return &Handler{
		registry: registry,
		sessions: sessions,
		store:    store,
		hub:      hub,
	}
}

// HandleJoin is the GET /ws endpoint. Admission runs before the
// upgrade so refusals come back as proper HTTP statuses.
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	displayName := r.URL.Query().Get("display_name")
	sessionID := r.URL.Query().Get("session_id")

	if userID == "" || sessionID == "" {
		http.Error(w, "Missing required query parameters: user_id, session_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = userID
	}

	sess, err := h.sessions.Get(r.Context(), sessionID, userID)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}

	eligibility, err := h.sessions.JoinEligibility(r.Context(), sessionID, userID)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	if !eligibility.CanJoin {
		http.Error(w, "Session cannot be joined now: "+string(eligibility.Phase), http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)
	if err := wsConn.SetCredentials(userID, sess.RoleOf(userID), sessionID); err != nil {
		log.Printf("websocket: setting credentials: %v", err)
		_ = wsConn.Close()
		return
	}
	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("websocket: registration failed: %v", err)
		_ = wsConn.Close()
		return
	}
	if err := h.hub.Join(wsConn, displayName); err != nil {
		log.Printf("websocket: hub join failed for %s: %v", userID, err)
		h.registry.Unregister(wsConn)
		_ = wsConn.Close()
		return
	}

	go h.replayHistory(wsConn)
	go h.readPump(wsConn)
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, types.ErrAccessDenied):
		http.Error(w, "Not a participant of this session", http.StatusForbidden)
	default:
		http.Error(w, "Session admission failed", http.StatusInternalServerError)
	}
}

// replayHistory sends recent chat so a rejoining participant has
// context, then a completion marker.
func (h *Handler) replayHistory(conn *Connection) {
	messages, err := h.store.ListSessionMessages(context.Background(), conn.GetSessionID(), historyReplayLimit)
	if err != nil {
		log.Printf("websocket: loading chat history: %v", err)
		h.pushSystem(conn, "history_unavailable")
		return
	}

	for _, msg := range messages {
		envelope := map[string]interface{}{"type": "chat", "message": msg}
		if err := conn.WriteJSON(envelope); err != nil {
			log.Printf("websocket: history replay to %s: %v", conn.GetUserID(), err)
			return
		}
	}
	h.pushSystem(conn, "history_complete")
}

func (h *Handler) pushSystem(conn *Connection, event string) {
	envelope := map[string]interface{}{
		"type":      "system",
		"event":     event,
		"timestamp": time.Now().UTC(),
	}
	if err := conn.WriteJSON(envelope); err != nil {
		log.Printf("websocket: system event to %s: %v", conn.GetUserID(), err)
	}
}

// readPump drives the connection's lifetime: ping/pong keepalive plus
// decoding client commands into the hub. When it exits the participant
// is detached.
func (h *Handler) readPump(conn *Connection) {
	userID := conn.GetUserID()
	defer func() {
		if err := h.hub.Leave(userID); err != nil {
			log.Printf("websocket: hub leave for %s: %v", userID, err)
		}
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error for %s: %v", userID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.pushSystem(conn, "malformed_command")
			continue
		}
		if err := h.hub.Dispatch(userID, cmd); err != nil {
			log.Printf("websocket: dispatch %q from %s: %v", cmd.Type, userID, err)
		}
	}
}
