package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHub sets up a Hub behind a test HTTP server. Dialed connections are
// registered and read until closed, mirroring the production read loop.
func testHub(t *testing.T) (*Hub, func() (*ws.Conn, string)) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock(), nil)
	t.Cleanup(hub.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	var mu sync.Mutex
	var lastID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		connID := hub.Register(conn, r.RemoteAddr)
		mu.Lock()
		lastID = connID
		mu.Unlock()

		go func() {
			defer hub.Unregister(connID)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	dial := func() (*ws.Conn, string) {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })

		// Registration happens in the handler before the dial returns a
		// frame, but give the handler goroutine a beat to record the id.
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return lastID != ""
		}, time.Second, 5*time.Millisecond)

		mu.Lock()
		id := lastID
		lastID = ""
		mu.Unlock()
		return conn, id
	}

	return hub, dial
}

func readFrame(t *testing.T, conn *ws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEncodeMessage(t *testing.T) {
	data, err := EncodeMessage("pong", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pong","data":{"n":1}}`, string(data))

	data, err = EncodeMessage("pong", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pong"}`, string(data))
}

func TestMulticastReachesRoomMembers(t *testing.T) {
	hub, dial := testHub(t)

	connA, idA := dial()
	connB, idB := dial()
	connC, _ := dial()

	require.NoError(t, hub.JoinRoom(idA, "group_7"))
	require.NoError(t, hub.JoinRoom(idB, "group_7"))

	count, err := hub.Multicast("group_7", "queue-update", json.RawMessage(`{"ticket":1}`))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, conn := range []*ws.Conn{connA, connB} {
		msg := readFrame(t, conn)
		assert.Equal(t, "queue-update", msg.Event)
	}

	// The non-member gets nothing.
	require.NoError(t, connC.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = connC.ReadMessage()
	assert.Error(t, err)
}

func TestMulticastEmptyRoom(t *testing.T) {
	hub, _ := testHub(t)

	count, err := hub.Multicast("group_404", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSendTargetsSingleConnection(t *testing.T) {
	hub, dial := testHub(t)
	conn, id := dial()

	require.NoError(t, hub.Send(id, "pong", json.RawMessage(`{"ok":true}`)))

	msg := readFrame(t, conn)
	assert.Equal(t, "pong", msg.Event)

	assert.Error(t, hub.Send("unknown-id", "pong", nil))
}

func TestRoomBookkeeping(t *testing.T) {
	hub, dial := testHub(t)
	_, idA := dial()
	_, idB := dial()

	require.NoError(t, hub.JoinRoom(idA, "group_1"))
	require.NoError(t, hub.JoinRoom(idB, "group_1"))
	require.NoError(t, hub.JoinRoom(idB, "prescription"))

	assert.Equal(t, 2, hub.RoomMemberCount("group_1"))
	assert.Equal(t, 1, hub.RoomMemberCount("prescription"))
	assert.ElementsMatch(t, []string{"group_1", "prescription"}, hub.ListRoomNames())

	require.NoError(t, hub.LeaveRoom(idA, "group_1"))
	assert.Equal(t, 1, hub.RoomMemberCount("group_1"))

	// Leaving a room twice is a no-op.
	require.NoError(t, hub.LeaveRoom(idA, "group_1"))
}

func TestUnregisterCleansRoomsAndFiresCallbackOnce(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), nil)
	t.Cleanup(hub.Stop)

	var mu sync.Mutex
	disconnects := map[string]int{}
	hub.OnDisconnect(func(connID string) {
		mu.Lock()
		defer mu.Unlock()
		disconnects[connID]++
	})

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	idCh := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		idCh <- hub.Register(conn, r.RemoteAddr)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	id := <-idCh

	require.NoError(t, hub.JoinRoom(id, "group_7"))
	hub.Unregister(id)
	hub.Unregister(id)

	assert.Equal(t, 0, hub.RoomMemberCount("group_7"))
	mu.Lock()
	assert.Equal(t, 1, disconnects[id])
	mu.Unlock()
}

func TestJoinRoomUnknownConnection(t *testing.T) {
	hub, _ := testHub(t)
	assert.Error(t, hub.JoinRoom("ghost", "group_1"))
}

func TestStopClosesClientsGracefully(t *testing.T) {
	hub, dial := testHub(t)
	conn, _ := dial()

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "expected a normal close frame, got %v", err)
}
