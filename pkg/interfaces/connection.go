package interfaces

// Connection represents one participant's WebSocket connection to a live
// session. Implementations must make WriteJSON safe for concurrent use
// (single-writer pattern) since controller events and chat relay both
// push to the same connection.
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe).
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources. Idempotent.
	Close() error

	// GetUserID returns the connected user's ID.
	GetUserID() string

	// GetRole returns "owner" or "partner" for the joined session.
	GetRole() string

	// GetSessionID returns the session this connection is joined to.
	GetSessionID() string

	// IsAuthenticated reports whether credentials have been set after the
	// admission check.
	IsAuthenticated() bool

	// SetCredentials binds the connection to a user, role and session
	// after admission succeeds.
	SetCredentials(userID, role, sessionID string) error
}
