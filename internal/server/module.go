package server

import (
	"context"
	"encoding/json"

	"github.com/labstack/echo/v4"
)

// EventHandler handles a single socket event from a connection. data is the
// raw "data" field of the wire frame and may be empty.
type EventHandler func(ctx context.Context, connID string, data json.RawMessage)

// Module is a pluggable feature unit. Each module contributes socket event
// handlers and an HTTP route group; both are registered once at startup.
type Module interface {
	Name() string

	// SocketHandlers returns the socket events this module handles, keyed
	// by event name. Event names must be unique across modules.
	SocketHandlers() map[string]EventHandler

	// RegisterRoutes mounts the module's HTTP endpoints.
	RegisterRoutes(e *echo.Echo)
}

// DisconnectHooker is implemented by modules that want to observe
// connection teardown, after the registry has already detached the
// connection.
type DisconnectHooker interface {
	HandleDisconnect(connID string)
}
