// Package prescription implements the pharmacy display channel: a single
// shared room that is not exclusive with group membership.
package prescription

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/falehjamal/framework-websocket-server/internal/relay"
	"github.com/falehjamal/framework-websocket-server/internal/server"
)

// Room is the shared prescription room name.
const Room = "prescription"

// Transport is the slice of the hub this module needs.
type Transport interface {
	Send(connID, event string, payload json.RawMessage) error
	RoomMemberCount(room string) int
}

type Module struct {
	registry *relay.Registry
	router   *relay.Router
	hub      Transport
}

func New(registry *relay.Registry, router *relay.Router, hub Transport) *Module {
	return &Module{registry: registry, router: router, hub: hub}
}

func (m *Module) Name() string { return "prescription" }

func (m *Module) SocketHandlers() map[string]server.EventHandler {
	return map[string]server.EventHandler{
		"join-prescription":  m.handleJoin,
		"leave-prescription": m.handleLeave,
	}
}

func (m *Module) handleJoin(ctx context.Context, connID string, _ json.RawMessage) {
	if err := m.registry.JoinRoom(connID, Room); err != nil {
		slog.ErrorContext(ctx, "Failed to join prescription room", "connection_id", connID, "error", err)
		m.emitError(connID, "Failed to join prescription room")
		return
	}

	m.emit(connID, "prescription-joined", map[string]any{
		"message":   "Successfully joined prescription room",
		"socketId":  connID,
		"roomName":  Room,
		"timestamp": timestamp(),
	})
}

func (m *Module) handleLeave(ctx context.Context, connID string, _ json.RawMessage) {
	if err := m.registry.LeaveRoom(connID, Room); err != nil {
		slog.ErrorContext(ctx, "Failed to leave prescription room", "connection_id", connID, "error", err)
		m.emitError(connID, "Failed to leave prescription room")
		return
	}

	m.emit(connID, "prescription-left", map[string]any{
		"message":   "Successfully left prescription room",
		"socketId":  connID,
		"roomName":  Room,
		"timestamp": timestamp(),
	})
}

func (m *Module) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/prescription")
	g.GET("/active", m.handleActive)
	g.POST("/broadcast", m.handleBroadcast)
}

func (m *Module) handleActive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success":           true,
		"roomName":          Room,
		"activeConnections": m.hub.RoomMemberCount(Room),
		"timestamp":         timestamp(),
	})
}

// handleBroadcast pushes an event to every prescription client. Producers
// that name a channel and event get "channel:event" as the emitted event,
// everything else lands on the default prescription-broadcast event.
func (m *Module) handleBroadcast(c echo.Context) error {
	var req struct {
		Channel string          `json:"channel"`
		Event   string          `json:"event"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Message is required"})
	}

	eventName := "prescription-broadcast"
	if req.Channel != "" && req.Event != "" {
		eventName = req.Channel + ":" + req.Event
	}

	payload, err := json.Marshal(map[string]any{
		"message":   req.Message,
		"data":      req.Data,
		"timestamp": timestamp(),
	})
	if err != nil {
		return err
	}

	result, err := m.router.BroadcastToNamedRoom(c.Request().Context(), Room, eventName, payload)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Broadcast sent successfully",
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
