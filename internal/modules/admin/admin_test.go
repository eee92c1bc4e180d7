package admin

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

	"github.com/falehjamal/framework-websocket-server/internal/cluster"
	"github.com/falehjamal/framework-websocket-server/internal/relay"
)

type sentEvent struct {
	connID  string
	event   string
	payload json.RawMessage
}

type fakeHub struct {
	rooms      map[string]map[string]struct{}
	sent       []sentEvent
	multicasts []sentEvent
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
	f.multicasts = append(f.multicasts, sentEvent{connID: room, event: event, payload: payload})
	return len(f.rooms[room]), nil
}

func (f *fakeHub) ListRoomNames() []string {
	names := make([]string, 0, len(f.rooms))
	for room := range f.rooms {
		names = append(names, room)
	}
	return names
}

func (f *fakeHub) ConnectionCount() int {
	seen := make(map[string]struct{})
	for _, members := range f.rooms {
		for id := range members {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

type fakeNodeLister struct {
	nodes []cluster.NodeInfo
}

func (f *fakeNodeLister) GetActiveNodes(_ context.Context) ([]cluster.NodeInfo, error) {
	return f.nodes, nil
}

func newTestModule(t *testing.T) (*Module, *fakeHub, *relay.Registry) {
	t.Helper()
	hub := newFakeHub()
	registry := relay.NewRegistry(hub, clockwork.NewFakeClock())
	router := relay.NewRouter(hub, nil, nil)
	nodes := &fakeNodeLister{nodes: []cluster.NodeInfo{{NodeID: "node-a", Connections: 2}}}
	return New(registry, router, hub, nodes), hub, registry
}

func joinGroup(t *testing.T, registry *relay.Registry, connID string, groupID relay.GroupID) {
	t.Helper()
	registry.Attach(connID, "10.0.0.1")
	require.NoError(t, registry.JoinGroup(connID, groupID, ""))
}

func TestRefreshAllDisplays(t *testing.T) {
	m, hub, registry := newTestModule(t)
	joinGroup(t, registry, "display-1", "1")
	joinGroup(t, registry, "display-2", "2")

	m.handleRefreshAllDisplays(context.Background(), "admin-1", json.RawMessage(`{"source":"ops"}`))

	require.Len(t, hub.multicasts, 2)
	for _, mc := range hub.multicasts {
		assert.Equal(t, "refresh-all-displays", mc.event)
		assert.Contains(t, string(mc.payload), `"action":"refresh"`)
		assert.Contains(t, string(mc.payload), `"source":"ops"`)
	}

	ack := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "refresh-all-displays-ack", ack.event)
	assert.Equal(t, "admin-1", ack.connID)
	assert.Contains(t, string(ack.payload), `"totalClientsReached":2`)
}

func TestBroadcastMessageRequiresEventAndMessage(t *testing.T) {
	m, hub, _ := newTestModule(t)

	m.handleBroadcastMessage(context.Background(), "admin-1", json.RawMessage(`{"event":"announce"}`))

	errEvent := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "broadcast-message-error", errEvent.event)
	assert.Contains(t, string(errEvent.payload), "Event and message are required")
}

func TestBroadcastMessage(t *testing.T) {
	m, hub, registry := newTestModule(t)
	joinGroup(t, registry, "display-1", "1")

	m.handleBroadcastMessage(context.Background(), "admin-1", json.RawMessage(`{"event":"announce","message":"maintenance at 5"}`))

	require.Len(t, hub.multicasts, 1)
	assert.Equal(t, "announce", hub.multicasts[0].event)

	ack := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "broadcast-message-ack", ack.event)
}

func TestGetActiveDisplays(t *testing.T) {
	m, hub, registry := newTestModule(t)
	joinGroup(t, registry, "display-1", "1")

	m.handleGetActiveDisplays(context.Background(), "admin-1", nil)

	resp := hub.sent[len(hub.sent)-1]
	assert.Equal(t, "active-displays-response", resp.event)
	assert.Contains(t, string(resp.payload), `"totalActiveDisplays":1`)
}

func TestJoinAndLeaveAdminRoom(t *testing.T) {
	m, hub, registry := newTestModule(t)
	registry.Attach("admin-1", "10.0.0.1")

	m.handleJoinAdmin(context.Background(), "admin-1", nil)
	assert.Equal(t, "admin-joined", hub.sent[len(hub.sent)-1].event)
	assert.Equal(t, 1, hub.RoomMemberCount(Room))

	m.handleLeaveAdmin(context.Background(), "admin-1", nil)
	assert.Equal(t, "admin-left", hub.sent[len(hub.sent)-1].event)
	assert.Equal(t, 0, hub.RoomMemberCount(Room))
}

func TestRefreshEndpoint(t *testing.T) {
	m, hub, registry := newTestModule(t)
	joinGroup(t, registry, "display-1", "1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/displays/refresh", strings.NewReader(`{"source":"cron"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.handleRefreshDisplays(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalClientsReached":1`)
	require.Len(t, hub.multicasts, 1)
	assert.Contains(t, string(hub.multicasts[0].payload), `"source":"cron"`)
}

func TestCustomBroadcastEndpointValidation(t *testing.T) {
	m, _, _ := newTestModule(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/displays/broadcast", strings.NewReader(`{"event":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.handleCustomBroadcast(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemStatsIncludesNodes(t *testing.T) {
	m, _, registry := newTestModule(t)
	joinGroup(t, registry, "display-1", "1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/system/stats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.handleSystemStats(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Stats   struct {
			TotalConnections    int                `json:"totalConnections"`
			TotalActiveDisplays int                `json:"totalActiveDisplays"`
			ActiveNodes         []cluster.NodeInfo `json:"activeNodes"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Stats.TotalActiveDisplays)
	require.Len(t, body.Stats.ActiveNodes, 1)
	assert.Equal(t, "node-a", body.Stats.ActiveNodes[0].NodeID)
}
