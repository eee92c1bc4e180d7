package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/falehjamal/framework-websocket-server/internal/config"
	"github.com/falehjamal/framework-websocket-server/internal/relay"
	"github.com/falehjamal/framework-websocket-server/internal/transport"
)

type Server struct {
	echo     *echo.Echo
	config   *config.Config
	hub      *transport.Hub
	registry *relay.Registry

	modules  []Module
	handlers map[string]EventHandler

	limits         *ConnectionLimits
	upgrader       websocket.Upgrader
	healthChecks   []HealthCheck
	metricsHandler http.Handler
	startTime      time.Time
}

func NewServer(cfg *config.Config, hub *transport.Hub, registry *relay.Registry, modules []Module, healthChecks []HealthCheck, promRegistry *prometheus.Registry) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handlers := make(map[string]EventHandler)
	for _, m := range modules {
		for event, handler := range m.SocketHandlers() {
			if _, exists := handlers[event]; exists {
				return nil, fmt.Errorf("duplicate socket event %q registered by module %q", event, m.Name())
			}
			handlers[event] = handler
		}
	}

	srv := &Server{
		echo:     e,
		config:   cfg,
		hub:      hub,
		registry: registry,
		modules:  modules,
		handlers: handlers,
		limits:   NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionsPerSec, cfg.ConnectionBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		healthChecks:   healthChecks,
		metricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

// Limits exposes the connection limiters for stats endpoints.
func (s *Server) Limits() *ConnectionLimits {
	return s.limits
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(":" + s.config.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
