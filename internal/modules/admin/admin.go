// Package admin implements operator controls: display refresh commands,
// custom broadcasts, and system introspection.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/falehjamal/framework-websocket-server/internal/cluster"
	"github.com/falehjamal/framework-websocket-server/internal/relay"
	"github.com/falehjamal/framework-websocket-server/internal/server"
)

// Room is the auxiliary room for admin-targeted broadcasts.
const Room = "admin"

// Transport is the slice of the hub this module needs.
type Transport interface {
	Send(connID, event string, payload json.RawMessage) error
	ConnectionCount() int
}

// NodeLister reports the active relay nodes for system stats.
type NodeLister interface {
	GetActiveNodes(ctx context.Context) ([]cluster.NodeInfo, error)
}

type Module struct {
	registry *relay.Registry
	router   *relay.Router
	hub      Transport

	// nodes may be nil in single-node deployments.
	nodes NodeLister

	startTime time.Time
}

func New(registry *relay.Registry, router *relay.Router, hub Transport, nodes NodeLister) *Module {
	return &Module{
		registry:  registry,
		router:    router,
		hub:       hub,
		nodes:     nodes,
		startTime: time.Now(),
	}
}

func (m *Module) Name() string { return "admin" }

func (m *Module) SocketHandlers() map[string]server.EventHandler {
	return map[string]server.EventHandler{
		"refresh-all-displays":      m.handleRefreshAllDisplays,
		"admin-broadcast-message":   m.handleBroadcastMessage,
		"admin-get-active-displays": m.handleGetActiveDisplays,
		"join-admin":                m.handleJoinAdmin,
		"leave-admin":               m.handleLeaveAdmin,
	}
}

func (m *Module) handleRefreshAllDisplays(ctx context.Context, connID string, data json.RawMessage) {
	var req struct {
		Source    string `json:"source"`
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(data, &req)
	if req.Source == "" {
		req.Source = "admin-panel"
	}
	if req.RequestID == "" {
		req.RequestID = fmt.Sprintf("refresh_%d", time.Now().UnixMilli())
	}

	payload, err := json.Marshal(map[string]any{
		"action":    "refresh",
		"timestamp": timestamp(),
		"source":    req.Source,
		"requestId": req.RequestID,
	})
	if err != nil {
		m.emit(connID, "refresh-all-displays-error", errorAck("Failed to broadcast refresh command"))
		return
	}

	result, err := m.router.BroadcastToAllGroups(ctx, "refresh-all-displays", payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to broadcast refresh command", "connection_id", connID, "error", err)
		m.emit(connID, "refresh-all-displays-error", errorAck("Failed to broadcast refresh command"))
		return
	}

	m.emit(connID, "refresh-all-displays-ack", map[string]any{
		"success":             true,
		"message":             "Refresh command sent to all display clients",
		"totalClientsReached": result.TotalDelivered,
		"displayRoomsCount":   result.GroupCount,
		"broadcastResults":    result.PerGroup,
		"timestamp":           timestamp(),
	})
}

func (m *Module) handleBroadcastMessage(ctx context.Context, connID string, data json.RawMessage) {
	var req struct {
		Event   string          `json:"event"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Event == "" || len(req.Message) == 0 {
		m.emit(connID, "broadcast-message-error", errorAck("Event and message are required"))
		return
	}

	payload, err := json.Marshal(map[string]any{
		"message":   req.Message,
		"timestamp": timestamp(),
		"source":    "admin-panel",
	})
	if err != nil {
		m.emit(connID, "broadcast-message-error", errorAck("Failed to broadcast message"))
		return
	}

	result, err := m.router.BroadcastToAllGroups(ctx, req.Event, payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to broadcast admin message", "connection_id", connID, "event", req.Event, "error", err)
		m.emit(connID, "broadcast-message-error", errorAck("Failed to broadcast message"))
		return
	}

	m.emit(connID, "broadcast-message-ack", map[string]any{
		"success":             true,
		"message":             "Message broadcasted successfully",
		"totalClientsReached": result.TotalDelivered,
		"displayRoomsCount":   result.GroupCount,
		"broadcastResults":    result.PerGroup,
		"timestamp":           timestamp(),
	})
}

func (m *Module) handleGetActiveDisplays(ctx context.Context, connID string, _ json.RawMessage) {
	displays := m.registry.ListActiveGroups()

	m.emit(connID, "active-displays-response", map[string]any{
		"success":             true,
		"totalActiveDisplays": len(displays),
		"displays":            displays,
		"timestamp":           timestamp(),
	})
}

func (m *Module) handleJoinAdmin(ctx context.Context, connID string, _ json.RawMessage) {
	if err := m.registry.JoinRoom(connID, Room); err != nil {
		slog.ErrorContext(ctx, "Failed to join admin room", "connection_id", connID, "error", err)
		m.emitError(connID, "Failed to join admin room")
		return
	}

	m.emit(connID, "admin-joined", map[string]any{
		"success":   true,
		"message":   "Successfully joined admin room",
		"socketId":  connID,
		"timestamp": timestamp(),
	})
}

func (m *Module) handleLeaveAdmin(ctx context.Context, connID string, _ json.RawMessage) {
	if err := m.registry.LeaveRoom(connID, Room); err != nil {
		slog.ErrorContext(ctx, "Failed to leave admin room", "connection_id", connID, "error", err)
		m.emitError(connID, "Failed to leave admin room")
		return
	}

	m.emit(connID, "admin-left", map[string]any{
		"success":   true,
		"message":   "Successfully left admin room",
		"timestamp": timestamp(),
	})
}

func (m *Module) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/admin")
	g.GET("/displays/active", m.handleActiveDisplays)
	g.POST("/displays/refresh", m.handleRefreshDisplays)
	g.POST("/displays/broadcast", m.handleCustomBroadcast)
	g.GET("/system/stats", m.handleSystemStats)
}

func (m *Module) handleActiveDisplays(c echo.Context) error {
	displays := m.registry.ListActiveGroups()

	return c.JSON(http.StatusOK, map[string]any{
		"success":             true,
		"totalActiveDisplays": len(displays),
		"displays":            displays,
		"timestamp":           timestamp(),
	})
}

func (m *Module) handleRefreshDisplays(c echo.Context) error {
	var req struct {
		Source  string `json:"source"`
		Message string `json:"message"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Source == "" {
		req.Source = "admin-api"
	}

	payload, err := json.Marshal(map[string]any{
		"action":    "refresh",
		"timestamp": timestamp(),
		"source":    req.Source,
		"message":   req.Message,
		"requestId": fmt.Sprintf("api_refresh_%d", time.Now().UnixMilli()),
	})
	if err != nil {
		return err
	}

	result, err := m.router.BroadcastToAllGroups(c.Request().Context(), "refresh-all-displays", payload)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":             true,
		"message":             "Refresh command sent to all display clients",
		"totalClientsReached": result.TotalDelivered,
		"displayRoomsCount":   result.GroupCount,
		"broadcastResults":    result.PerGroup,
		"timestamp":           timestamp(),
	})
}

func (m *Module) handleCustomBroadcast(c echo.Context) error {
	var req struct {
		Event   string          `json:"event"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Event == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success":   false,
			"error":     "Event and message are required",
			"timestamp": timestamp(),
		})
	}

	payload, err := json.Marshal(map[string]any{
		"message":   req.Message,
		"data":      req.Data,
		"timestamp": timestamp(),
		"source":    "admin-api",
		"requestId": fmt.Sprintf("api_broadcast_%d", time.Now().UnixMilli()),
	})
	if err != nil {
		return err
	}

	result, err := m.router.BroadcastToAllGroups(c.Request().Context(), req.Event, payload)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":             true,
		"message":             "Custom message broadcasted to all display clients",
		"totalClientsReached": result.TotalDelivered,
		"displayRoomsCount":   result.GroupCount,
		"broadcastResults":    result.PerGroup,
		"timestamp":           timestamp(),
	})
}

func (m *Module) handleSystemStats(c echo.Context) error {
	displays := m.registry.ListActiveGroups()

	stats := map[string]any{
		"totalConnections":    m.hub.ConnectionCount(),
		"totalActiveDisplays": len(displays),
		"displayGroups":       displays,
		"uptime":              time.Since(m.startTime).Seconds(),
	}

	if m.nodes != nil {
		nodes, err := m.nodes.GetActiveNodes(c.Request().Context())
		if err != nil {
			slog.Error("Failed to list active nodes", "error", err)
		} else {
			stats["activeNodes"] = nodes
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"stats":     stats,
		"timestamp": timestamp(),
	})
}

func errorAck(message string) map[string]any {
	return map[string]any{
		"success":   false,
		"error":     message,
		"timestamp": timestamp(),
	}
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
