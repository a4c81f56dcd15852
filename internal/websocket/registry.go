package websocket

import (
	"log"
	"sync"
)

// Registry tracks live connections, globally by user and grouped by
// session. Pure connection bookkeeping; admission and routing decisions
// live elsewhere.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]*Connection
	sessions map[string]map[string]*Connection // sessionID -> userID -> conn
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[string]*Connection),
		sessions: make(map[string]map[string]*Connection),
	}
}

// Register adds an authenticated connection. A user reconnecting
// replaces their previous connection, which is closed asynchronously.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byUser[userID]; ok {
		// Close outside the lock path; Close never touches the registry.
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("registry: closing replaced connection for %s: %v", userID, err)
			}
		}()
	}

	r.byUser[userID] = conn
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]*Connection)
	}
	r.sessions[sessionID][userID] = conn
	return nil
}

// Unregister removes conn if it is still the registered connection for
// its user. Idempotent; a reconnect that already replaced conn is left
// alone.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.byUser[userID]
	if !ok || registered != conn {
		return
	}

	sessionID := conn.GetSessionID()
	delete(r.byUser, userID)
	if peers, ok := r.sessions[sessionID]; ok {
		delete(peers, userID)
		if len(peers) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// GetUserConnection returns the user's current connection.
func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// SessionConnections returns every connection in a session.
func (r *Registry) SessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.sessions[sessionID]))
	for _, conn := range r.sessions[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// SessionPeers returns the session's connections excluding userID, for
// relaying to the other side of the pair.
func (r *Registry) SessionPeers(sessionID, excludeUserID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for userID, conn := range r.sessions[sessionID] {
		if userID != excludeUserID {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Stats reports registry counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.byUser),
		"active_sessions":   len(r.sessions),
	}
}
