// Package queue implements display group membership and group-targeted
// broadcasts for queue displays.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/falehjamal/framework-websocket-server/internal/relay"
	"github.com/falehjamal/framework-websocket-server/internal/server"
)

// Transport is the slice of the hub this module needs.
type Transport interface {
	Send(connID, event string, payload json.RawMessage) error
	RoomMemberCount(room string) int
}

type Module struct {
	registry *relay.Registry
	router   *relay.Router
	hub      Transport

	clearLabelOnEmpty bool
}

func New(registry *relay.Registry, router *relay.Router, hub Transport, clearLabelOnEmpty bool) *Module {
	return &Module{
		registry:          registry,
		router:            router,
		hub:               hub,
		clearLabelOnEmpty: clearLabelOnEmpty,
	}
}

func (m *Module) Name() string { return "queue" }

func (m *Module) SocketHandlers() map[string]server.EventHandler {
	return map[string]server.EventHandler{
		"join-group":  m.handleJoinGroup,
		"leave-group": m.handleLeaveGroup,
	}
}

// flexibleID accepts a JSON string or number; queue producers send numeric
// group ids, display clients send strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexibleID(n.String())
		return nil
	}
	return fmt.Errorf("group id must be a string or number")
}

func (m *Module) handleJoinGroup(ctx context.Context, connID string, data json.RawMessage) {
	var req struct {
		GroupID   flexibleID `json:"groupId"`
		GroupName string     `json:"groupName"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.GroupID == "" {
		m.emitError(connID, "Group ID is required")
		return
	}

	groupID := relay.GroupID(req.GroupID)
	if err := m.registry.JoinGroup(connID, groupID, req.GroupName); err != nil {
		slog.ErrorContext(ctx, "Failed to join group", "connection_id", connID, "group_id", groupID, "error", err)
		m.emitError(connID, "Failed to join group")
		return
	}

	m.emit(connID, "joined-group", map[string]any{
		"groupId":   groupID,
		"groupName": req.GroupName,
		"roomName":  relay.RoomName(groupID),
		"timestamp": timestamp(),
	})
}

func (m *Module) handleLeaveGroup(ctx context.Context, connID string, data json.RawMessage) {
	var req struct {
		GroupID flexibleID `json:"groupId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.GroupID == "" {
		m.emitError(connID, "Group ID is required")
		return
	}

	groupID := relay.GroupID(req.GroupID)
	if err := m.registry.LeaveGroup(connID, groupID); err != nil {
		slog.ErrorContext(ctx, "Failed to leave group", "connection_id", connID, "group_id", groupID, "error", err)
		m.emitError(connID, "Failed to leave group")
		return
	}

	if m.clearLabelOnEmpty {
		m.registry.ClearLabelIfEmpty(groupID)
	}

	m.emit(connID, "left-group", map[string]any{
		"groupId":   groupID,
		"roomName":  relay.RoomName(groupID),
		"timestamp": timestamp(),
	})
}

func (m *Module) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/queue")
	g.GET("/groups/active", m.handleActiveGroups)
	g.GET("/groups/:groupId", m.handleGroupInfo)
	g.POST("/groups/:groupId/broadcast", m.handleGroupBroadcast)
}

func (m *Module) handleActiveGroups(c echo.Context) error {
	groups := m.registry.ListActiveGroups()

	return c.JSON(http.StatusOK, map[string]any{
		"success":           true,
		"totalActiveGroups": len(groups),
		"groups":            groups,
		"timestamp":         timestamp(),
	})
}

func (m *Module) handleGroupInfo(c echo.Context) error {
	groupID := relay.GroupID(c.Param("groupId"))
	room := relay.RoomName(groupID)

	return c.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"groupId":     groupID,
		"roomName":    room,
		"clientCount": m.hub.RoomMemberCount(room),
		"timestamp":   timestamp(),
	})
}

// handleGroupBroadcast is the HTTP producer path: queue systems push an
// event at one display group.
func (m *Module) handleGroupBroadcast(c echo.Context) error {
	groupID := relay.GroupID(c.Param("groupId"))

	var req struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	result, err := m.router.BroadcastToGroup(c.Request().Context(), groupID, req.Event, req.Data)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"roomName":  result.Room,
		"event":     result.Event,
		"delivered": result.Delivered,
		"timestamp": timestamp(),
	})
}

func (m *Module) emit(connID, event string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = m.hub.Send(connID, event, payload)
}

func (m *Module) emitError(connID, message string) {
	m.emit(connID, "error", map[string]string{"message": message})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
