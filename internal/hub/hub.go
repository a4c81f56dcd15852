// Package hub coordinates the live side of the service: it owns one
// session controller per connected participant and bridges controller
// events out to connections and client commands back in. A single run
// goroutine owns the controller table, so participant lifecycle needs
// no locking.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"focusmate/internal/controller"
	"focusmate/internal/router"
	"focusmate/internal/stats"
	"focusmate/internal/websocket"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// endGraceDelay keeps the connection open briefly after a session ends
// so the client can show the closing screen before the socket drops.
const endGraceDelay = 3 * time.Second

// ServerEvent is the server-to-client envelope for everything except
// chat (which the router envelopes itself).
type ServerEvent struct {
	Type     string               `json:"type"`
	Snapshot *controller.Snapshot `json:"snapshot,omitempty"`
	Seconds  int                  `json:"seconds,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type join struct {
	conn        *websocket.Connection
	displayName string
}

type command struct {
	userID string
	cmd    websocket.Command
}

// Hub runs the live-session coordination loop.
type Hub struct {
	joinCh    chan *join
	leaveCh   chan string // userID
	commandCh chan *command
	shutdown  chan struct{}

	registry *websocket.Registry
	router   *router.Router
	store    interfaces.SessionStore
	attacher interfaces.VideoAttacher
	stats    *stats.Service

	// controllers is touched only by the run goroutine.
	controllers map[string]*controller.Controller

	mu      sync.RWMutex
	running bool

	endGrace time.Duration
}

// NewHub wires the hub. attacher and statsSvc may be nil (no video
// integration, no stats invalidation).
func NewHub(registry *websocket.Registry, r *router.Router, store interfaces.SessionStore, attacher interfaces.VideoAttacher, statsSvc *stats.Service) *Hub {
	return &Hub{
		joinCh:      make(chan *join, 100),
		leaveCh:     make(chan string, 100),
		commandCh:   make(chan *command, 1000),
		shutdown:    make(chan struct{}),
		registry:    registry,
		router:      r,
		store:       store,
		attacher:    attacher,
		stats:       statsSvc,
		controllers: make(map[string]*controller.Controller),
		endGrace:    endGraceDelay,
	}
}

// Start launches the run loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("hub: starting")
	go h.run(ctx)
	return nil
}

// Stop shuts the loop down; every participant's controller is closed.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("hub: stopping")
	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Join hands an admitted, registered connection to the hub, which spins
// up its controller. Non-blocking; a full queue refuses the join.
func (h *Hub) Join(conn *websocket.Connection, displayName string) error {
	if err := h.requireRunning(); err != nil {
		return err
	}
	select {
	case h.joinCh <- &join{conn: conn, displayName: displayName}:
		return nil
	default:
		return ErrJoinChannelFull
	}
}

// Leave tears down the participant's controller and registry entry.
func (h *Hub) Leave(userID string) error {
	if err := h.requireRunning(); err != nil {
		return err
	}
	select {
	case h.leaveCh <- userID:
		return nil
	default:
		return ErrJoinChannelFull
	}
}

// Dispatch queues a client command for processing.
func (h *Hub) Dispatch(userID string, cmd websocket.Command) error {
	if err := h.requireRunning(); err != nil {
		return err
	}
	select {
	case h.commandCh <- &command{userID: userID, cmd: cmd}:
		return nil
	default:
		return ErrCommandChannelFull
	}
}

func (h *Hub) requireRunning() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer func() {
		for userID, ctrl := range h.controllers {
			ctrl.Close()
			delete(h.controllers, userID)
		}
		log.Println("hub: stopped")
	}()

	for {
		select {
		case j := <-h.joinCh:
			h.handleJoin(ctx, j)
		case userID := <-h.leaveCh:
			h.handleLeave(userID)
		case c := <-h.commandCh:
			h.handleCommand(ctx, c)
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleJoin builds and starts the participant's controller. A failed
// start is reported on the socket and the connection dropped.
func (h *Hub) handleJoin(ctx context.Context, j *join) {
	conn := j.conn
	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()

	// A reconnect replaces the previous controller.
	if prev, ok := h.controllers[userID]; ok {
		prev.Close()
		delete(h.controllers, userID)
	}

	ctrl := controller.New(h.store, h.attacher, sessionID, userID, j.displayName, controller.Events{
		OnUpdate: func(snap controller.Snapshot) {
			h.push(conn, &ServerEvent{Type: "state", Snapshot: &snap})
		},
		OnThreshold: func(seconds int) {
			h.push(conn, &ServerEvent{Type: "threshold", Seconds: seconds})
		},
		OnVideoDegraded: func(err error) {
			h.push(conn, &ServerEvent{Type: "video_degraded", Error: err.Error()})
		},
		OnEnded: func(sess *types.Session) {
			h.onSessionEnded(conn, sess)
		},
	})

	if err := ctrl.Start(ctx); err != nil {
		log.Printf("hub: controller start for user=%s session=%s failed: %v", userID, sessionID, err)
		h.push(conn, &ServerEvent{Type: "error", Error: err.Error()})
		ctrl.Close()
		_ = conn.Close()
		return
	}

	h.controllers[userID] = ctrl
	log.Printf("hub: participant joined user=%s session=%s role=%s", userID, sessionID, conn.GetRole())
}

func (h *Hub) handleLeave(userID string) {
	if ctrl, ok := h.controllers[userID]; ok {
		ctrl.Close()
		delete(h.controllers, userID)
	}
	if conn, ok := h.registry.GetUserConnection(userID); ok {
		h.registry.Unregister(conn)
		_ = conn.Close()
	}
	log.Printf("hub: participant left user=%s", userID)
}

// handleCommand authorizes and applies one client command.
func (h *Hub) handleCommand(ctx context.Context, c *command) {
	conn, ok := h.registry.GetUserConnection(c.userID)
	if !ok {
		return
	}

	if err := h.router.Authorize(c.cmd.Type, conn.GetRole()); err != nil {
		h.push(conn, &ServerEvent{Type: "error", Error: err.Error()})
		return
	}

	switch c.cmd.Type {
	case router.CommandChat:
		if err := h.router.RouteChat(ctx, c.userID, c.cmd.Body); err != nil {
			h.push(conn, &ServerEvent{Type: "error", Error: err.Error()})
		}
		return
	}

	ctrl, ok := h.controllers[c.userID]
	if !ok {
		return
	}

	var err error
	switch c.cmd.Type {
	case router.CommandEndSession:
		err = ctrl.EndSession(ctx)
	case router.CommandLeave:
		ctrl.Leave()
		delete(h.controllers, c.userID)
	case router.CommandPauseTimer:
		ctrl.PauseTimer()
	case router.CommandResumeTimer:
		err = ctrl.ResumeTimer()
	}
	if err != nil {
		h.push(conn, &ServerEvent{Type: "error", Error: err.Error()})
	}
}

// onSessionEnded invalidates cached stats for both participants, tells
// the client, and drops the socket after a short grace.
func (h *Hub) onSessionEnded(conn *websocket.Connection, sess *types.Session) {
	if h.stats != nil && sess != nil {
		h.stats.Invalidate(sess.OwnerID)
		if sess.PartnerID != nil {
			h.stats.Invalidate(*sess.PartnerID)
		}
	}

	h.push(conn, &ServerEvent{Type: "session_ended"})
	time.AfterFunc(h.endGrace, func() {
		_ = conn.Close()
	})
}

func (h *Hub) push(conn *websocket.Connection, ev *ServerEvent) {
	if err := conn.WriteJSON(ev); err != nil {
		log.Printf("hub: push to %s failed: %v", conn.GetUserID(), err)
	}
}
