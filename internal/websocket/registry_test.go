package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bareConn builds an authenticated Connection with no underlying socket;
// registry operations never write.
func bareConn(userID, role, sessionID string) *Connection {
	c := NewConnection(nil)
	_ = c.SetCredentials(userID, role, sessionID)
	return c
}

func TestRegisterRequiresAuthentication(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register(nil), ErrNilConnection)
	assert.ErrorIs(t, r.Register(NewConnection(nil)), ErrNotAuthenticated)
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	owner := bareConn("arun", "owner", "sess-1")
	partner := bareConn("priya", "partner", "sess-1")

	require.NoError(t, r.Register(owner))
	require.NoError(t, r.Register(partner))

	got, ok := r.GetUserConnection("arun")
	require.True(t, ok)
	assert.Same(t, owner, got)

	assert.Len(t, r.SessionConnections("sess-1"), 2)
	peers := r.SessionPeers("sess-1", "arun")
	require.Len(t, peers, 1)
	assert.Same(t, partner, peers[0])
}

func TestReconnectReplacesConnection(t *testing.T) {
	r := NewRegistry()
	first := bareConn("arun", "owner", "sess-1")
	second := bareConn("arun", "owner", "sess-1")

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	got, ok := r.GetUserConnection("arun")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Len(t, r.SessionConnections("sess-1"), 1)
}

func TestStaleUnregisterIsIgnored(t *testing.T) {
	r := NewRegistry()
	first := bareConn("arun", "owner", "sess-1")
	second := bareConn("arun", "owner", "sess-1")

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	// The replaced connection's deferred cleanup must not evict the
	// reconnect.
	r.Unregister(first)
	_, ok := r.GetUserConnection("arun")
	assert.True(t, ok)

	r.Unregister(second)
	_, ok = r.GetUserConnection("arun")
	assert.False(t, ok)
}

func TestUnregisterCleansUpSessionMap(t *testing.T) {
	r := NewRegistry()
	owner := bareConn("arun", "owner", "sess-1")
	require.NoError(t, r.Register(owner))

	r.Unregister(owner)
	r.Unregister(owner) // idempotent

	assert.Empty(t, r.SessionConnections("sess-1"))
	stats := r.Stats()
	assert.Equal(t, 0, stats["total_connections"])
	assert.Equal(t, 0, stats["active_sessions"])
}

func TestStats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(bareConn("arun", "owner", "sess-1")))
	require.NoError(t, r.Register(bareConn("priya", "partner", "sess-1")))
	require.NoError(t, r.Register(bareConn("vikram", "owner", "sess-2")))

	stats := r.Stats()
	assert.Equal(t, 3, stats["total_connections"])
	assert.Equal(t, 2, stats["active_sessions"])
}
