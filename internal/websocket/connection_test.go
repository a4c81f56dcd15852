package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newConnPair returns a server-side Connection and the raw client conn
// reading what the server writes.
func newConnPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConn := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- conn // hijacked; outlives the handler
	}))
	t.Cleanup(srv.Close)

	url := strings.Replace(srv.URL, "http://", "ws://", 1)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	raw := <-serverConn
	conn := NewConnection(raw)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func TestWriteJSONDelivers(t *testing.T) {
	conn, client := newConnPair(t)

	payload := map[string]string{"type": "state", "phase": "early"}
	require.NoError(t, conn.WriteJSON(payload))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, payload, got)
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	conn, client := newConnPair(t)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = conn.WriteJSON(map[string]int{"n": n})
		}(i)
	}
	wg.Wait()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	seen := make(map[int]bool)
	for i := 0; i < writers; i++ {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var msg map[string]int
		require.NoError(t, json.Unmarshal(data, &msg))
		seen[msg["n"]] = true
	}
	assert.Len(t, seen, writers, "every concurrent write arrives intact")
}

func TestCloseFlushesQueuedWrites(t *testing.T) {
	conn, client := newConnPair(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "error", "error": "session not found"}))
	require.NoError(t, conn.Close())

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "session not found", got["error"])
}

func TestWriteAfterCloseFails(t *testing.T) {
	conn, _ := newConnPair(t)
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.WriteJSON(map[string]string{"x": "y"}), ErrConnectionClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, _ := newConnPair(t)
	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestCredentials(t *testing.T) {
	conn, _ := newConnPair(t)
	assert.False(t, conn.IsAuthenticated())

	require.NoError(t, conn.SetCredentials("arun", "owner", "sess-1"))
	assert.True(t, conn.IsAuthenticated())
	assert.Equal(t, "arun", conn.GetUserID())
	assert.Equal(t, "owner", conn.GetRole())
	assert.Equal(t, "sess-1", conn.GetSessionID())
}
