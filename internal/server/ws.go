package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/falehjamal/framework-websocket-server/internal/transport"
)

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		slog.Warn("WebSocket connection rejected", "ip", ip, "reason", string(reason))
		status := http.StatusServiceUnavailable
		if reason == LimitReasonRate {
			status = http.StatusTooManyRequests
		}
		return c.JSON(status, map[string]string{"error": "connection limit exceeded", "reason": string(reason)})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.limits.Release(ip)
		slog.Warn("WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}

	connID := s.hub.Register(conn, ip)

	s.readLoop(c.Request().Context(), connID, conn)

	s.hub.Unregister(connID)
	s.limits.Release(ip)
	return nil
}

// readLoop blocks until the connection closes, dispatching each inbound
// frame to the matching event handler.
func (s *Server) readLoop(ctx context.Context, connID string, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, connID, raw)
	}
}

func (s *Server) dispatch(ctx context.Context, connID string, raw []byte) {
	var msg transport.Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		s.sendError(connID, "invalid message format")
		return
	}

	if msg.Event == "ping" {
		payload, _ := json.Marshal(map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)})
		_ = s.hub.Send(connID, "pong", payload)
		return
	}

	handler, ok := s.handlers[msg.Event]
	if !ok {
		slog.Debug("Unknown socket event", "event", msg.Event, "connection_id", connID)
		s.sendError(connID, "unknown event: "+msg.Event)
		return
	}

	handler(ctx, connID, msg.Data)
}

// sendError emits an error event to a single connection, matching the
// client-facing error frame shape.
func (s *Server) sendError(connID, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	_ = s.hub.Send(connID, "error", payload)
}
