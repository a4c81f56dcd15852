// Package router validates and delivers in-session client traffic: chat
// messages are persisted then relayed, and session commands are
// authorized against the sender's role before the hub acts on them.
package router

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"focusmate/internal/websocket"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// Client command types accepted over the WebSocket.
const (
	CommandChat        = "chat"
	CommandEndSession  = "end_session"
	CommandLeave       = "leave"
	CommandPauseTimer  = "pause_timer"
	CommandResumeTimer = "resume_timer"
)

// Router owns chat relay and command authorization for live sessions.
type Router struct {
	registry    *websocket.Registry
	store       interfaces.SessionStore
	rateLimiter *RateLimiter
}

func NewRouter(registry *websocket.Registry, store interfaces.SessionStore) *Router {
	return &Router{
		registry:    registry,
		store:       store,
		rateLimiter: NewRateLimiter(),
	}
}

// Authorize checks that role may issue cmdType. Ending the session is
// the owner's call; everything else is open to both participants.
func (r *Router) Authorize(cmdType, role string) error {
	switch cmdType {
	case CommandChat, CommandLeave, CommandPauseTimer, CommandResumeTimer:
		return nil
	case CommandEndSession:
		if role != types.RoleOwner {
			return ErrOwnerOnlyCommand
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmdType)
	}
}

// RouteChat persists a chat message and relays it to every connection in
// the sender's session, the sender included (the echo doubles as the
// delivery acknowledgement). Persist-then-relay: a message a reconnect
// can replay is never shown before it is durable.
func (r *Router) RouteChat(ctx context.Context, senderID, body string) error {
	sender, ok := r.registry.GetUserConnection(senderID)
	if !ok {
		return ErrSenderNotConnected
	}
	sessionID := sender.GetSessionID()

	msg := &types.Message{
		ID:        uuid.New().String(), // server-side id, client values ignored
		SessionID: sessionID,
		FromUser:  senderID,
		Body:      body,
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	if !r.rateLimiter.Allow(senderID) {
		return ErrRateLimitExceeded
	}

	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting chat message: %w", err)
	}

	for _, conn := range r.registry.SessionConnections(sessionID) {
		if err := conn.WriteJSON(chatEnvelope(msg)); err != nil {
			log.Printf("router: chat delivery to %s failed: %v", conn.GetUserID(), err)
		}
	}
	return nil
}

// chatEnvelope wraps a persisted message in the server event shape.
func chatEnvelope(msg *types.Message) map[string]interface{} {
	return map[string]interface{}{
		"type":    "chat",
		"message": msg,
	}
}

// Cleanup releases idle rate-limiter state.
func (r *Router) Cleanup() {
	r.rateLimiter.Cleanup()
}
