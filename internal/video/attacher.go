// Package video connects sessions to the external conferencing service.
// The service stays a collaborator behind the VideoAttacher capability:
// a failed or slow room never affects the countdown or completion.
package video

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// roomEvent is the wire shape the room service pushes to attached
// participants.
type roomEvent struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name,omitempty"`
	Count       int    `json:"count,omitempty"`
}

const (
	eventJoined            = "joined"
	eventParticipantJoined = "participant_joined"
	eventParticipantLeft   = "participant_left"
	eventReadyToClose      = "ready_to_close"
)

// Attacher dials the room service over WebSocket and feeds its events
// back through the VideoEvents callbacks.
type Attacher struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewAttacher creates an attacher for the room service at baseURL
// (ws:// or wss://).
func NewAttacher(baseURL string) *Attacher {
	return &Attacher{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
	}
}

// Attach joins roomID as displayName. The dial respects ctx's deadline;
// callers bound it so a slow room service degrades rather than blocks.
func (a *Attacher) Attach(ctx context.Context, roomID, displayName string, events interfaces.VideoEvents) (interfaces.VideoHandle, error) {
	roomURL := fmt.Sprintf("%s/rooms/%s?name=%s", a.baseURL, url.PathEscape(roomID), url.QueryEscape(displayName))

	conn, _, err := a.dialer.DialContext(ctx, roomURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial room %s: %v", types.ErrVideoUnavailable, roomID, err)
	}

	h := &roomHandle{
		conn:   conn,
		events: events,
		done:   make(chan struct{}),
	}
	go h.readLoop(roomID)
	return h, nil
}

// roomHandle is one attached participant's connection to a room.
type roomHandle struct {
	conn   *websocket.Conn
	events interfaces.VideoEvents

	mu    sync.Mutex
	count int

	disposeOnce sync.Once
	done        chan struct{}
}

func (h *roomHandle) ParticipantCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *roomHandle) Dispose() {
	h.disposeOnce.Do(func() {
		close(h.done)
		h.conn.Close()
	})
}

// readLoop dispatches room events until the connection drops or the
// handle is disposed. A dropped room connection is silent degradation,
// not an error surfaced to the session.
func (h *roomHandle) readLoop(roomID string) {
	defer h.Dispose()
	for {
		var ev roomEvent
		if err := h.conn.ReadJSON(&ev); err != nil {
			select {
			case <-h.done:
			default:
				log.Printf("video: room %s connection dropped: %v", roomID, err)
			}
			return
		}

		switch ev.Type {
		case eventJoined:
			h.setCount(ev.Count)
			if h.events.OnJoined != nil {
				h.events.OnJoined()
			}
		case eventParticipantJoined:
			h.setCount(ev.Count)
			if h.events.OnParticipantJoined != nil {
				h.events.OnParticipantJoined(ev.DisplayName)
			}
		case eventParticipantLeft:
			h.setCount(ev.Count)
			if h.events.OnParticipantLeft != nil {
				h.events.OnParticipantLeft(ev.DisplayName)
			}
		case eventReadyToClose:
			if h.events.OnReadyToClose != nil {
				h.events.OnReadyToClose()
			}
		default:
			// Unknown event types from newer room service versions are
			// ignored.
		}
	}
}

func (h *roomHandle) setCount(n int) {
	h.mu.Lock()
	if n >= 0 {
		h.count = n
	}
	h.mu.Unlock()
}
