package prescription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falehjamal/framework-websocket-server/internal/relay"
)

type sentEvent struct {
	connID  string
	event   string
	payload json.RawMessage
}

type fakeHub struct {
	rooms map[string]map[string]struct{}
	sent  []sentEvent
}

func newFakeHub() *fakeHub {
	return &fakeHub{rooms: make(map[string]map[string]struct{})}
}

func (f *fakeHub) JoinRoom(connID, room string) error {
	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]struct{})
	}
	f.rooms[room][connID] = struct{}{}
	return nil
}

func (f *fakeHub) LeaveRoom(connID, room string) error {
	delete(f.rooms[room], connID)
	if len(f.rooms[room]) == 0 {
		delete(f.rooms, room)
	}
	return nil
}

func (f *fakeHub) Send(connID, event string, payload json.RawMessage) error {
	f.sent = append(f.sent, sentEvent{connID: connID, event: event, payload: payload})
	return nil
}

func (f *fakeHub) RoomMemberCount(room string) int {
	return len(f.rooms[room])
}

func (f *fakeHub) Multicast(room, event string, payload json.RawMessage) (int, error) {
	// Record the multicast as a broadcast event per member.
	f.sent = append(f.sent, sentEvent{event: event, payload: payload})
	return len(f.rooms[room]), nil
}

func (f *fakeHub) ListRoomNames() []string {
	names := make([]string, 0, len(f.rooms))
	for room := range f.rooms {
		names = append(names, room)
	}
	return names
}

func newTestModule(t *testing.T) (*Module, *fakeHub, *relay.Registry) {
	t.Helper()
	hub := newFakeHub()
	registry := relay.NewRegistry(hub, clockwork.NewFakeClock())
	router := relay.NewRouter(hub, nil, nil)
	return New(registry, router, hub), hub, registry
}

func TestJoinPrescriptionRoom(t *testing.T) {
	m, hub, registry := newTestModule(t)
	registry.Attach("conn-1", "10.0.0.1")

	m.handleJoin(context.Background(), "conn-1", nil)

	require.NotEmpty(t, hub.sent)
	ack := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "prescription-joined", ack.event)
	assert.Equal(t, 1, hub.RoomMemberCount(Room))
}

func TestPrescriptionRoomIsNotExclusiveWithGroup(t *testing.T) {
	m, hub, registry := newTestModule(t)
	registry.Attach("conn-1", "10.0.0.1")
	require.NoError(t, registry.JoinGroup("conn-1", "12", "Poli Umum"))

	m.handleJoin(context.Background(), "conn-1", nil)

	assert.Equal(t, 1, hub.RoomMemberCount(Room))
	assert.Equal(t, 1, hub.RoomMemberCount(relay.RoomName("12")))
}

func TestLeavePrescriptionRoom(t *testing.T) {
	m, hub, registry := newTestModule(t)
	registry.Attach("conn-1", "10.0.0.1")
	m.handleJoin(context.Background(), "conn-1", nil)

	m.handleLeave(context.Background(), "conn-1", nil)

	ack := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "prescription-left", ack.event)
	assert.Equal(t, 0, hub.RoomMemberCount(Room))
}

func TestActiveEndpoint(t *testing.T) {
	m, _, registry := newTestModule(t)
	registry.Attach("conn-1", "10.0.0.1")
	m.handleJoin(context.Background(), "conn-1", nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/prescription/active", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.handleActive(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"activeConnections":1`)
}

func TestBroadcastUsesChannelEventNaming(t *testing.T) {
	m, hub, registry := newTestModule(t)
	registry.Attach("conn-1", "10.0.0.1")
	m.handleJoin(context.Background(), "conn-1", nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/prescription/broadcast",
		strings.NewReader(`{"channel":"farmasi","event":"resep-selesai","message":"ready"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.handleBroadcast(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	broadcast := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "farmasi:resep-selesai", broadcast.event)
}

func TestBroadcastDefaultsEventName(t *testing.T) {
	m, hub, registry := newTestModule(t)
	registry.Attach("conn-1", "10.0.0.1")
	m.handleJoin(context.Background(), "conn-1", nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/prescription/broadcast", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.handleBroadcast(c))

	broadcast := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "prescription-broadcast", broadcast.event)
}

func TestBroadcastRequiresMessage(t *testing.T) {
	m, _, _ := newTestModule(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/prescription/broadcast", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.handleBroadcast(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Message is required")
}
