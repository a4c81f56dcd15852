// Package websocket carries the realtime channel between a session
// participant and the service: controller snapshots and chat go out,
// client commands come in.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"focusmate/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

const (
	writeBuffer   = 100
	writeDeadline = 5 * time.Second
)

// Connection wraps one participant's WebSocket. All writes funnel
// through a single writer goroutine; WriteJSON is safe from any
// goroutine.
type Connection struct {
	conn    *websocket.Conn
	writeCh chan []byte

	userID    string
	role      string
	sessionID string

	mu            sync.RWMutex
	authenticated bool

	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	writerDone chan struct{}
}

// NewConnection wraps an upgraded WebSocket and starts its writer.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:       conn,
		writeCh:    make(chan []byte, writeBuffer),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case data := <-c.writeCh:
			if !c.send(data) {
				return
			}
		case <-c.ctx.Done():
			// Flush whatever was queued before shutdown so a final
			// error or session_ended event still reaches the client.
			for {
				select {
				case data := <-c.writeCh:
					if !c.send(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) send(data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// WriteJSON queues v for delivery. It fails rather than blocks when the
// peer cannot drain the buffer within the write deadline.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeDeadline):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts the connection down once; later calls are no-ops.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			// Let queued writes flush before dropping the socket.
			select {
			case <-c.writerDone:
			case <-time.After(writeDeadline):
			}
			err = c.conn.Close()
		}
	})
	return err
}

// Done exposes the connection's lifetime for goroutines tied to it.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetCredentials records the authenticated identity. Called exactly
// once, after admission succeeds and before registration.
func (c *Connection) SetCredentials(userID, role, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.role = role
	c.sessionID = sessionID
	c.authenticated = true
	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
