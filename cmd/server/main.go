package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/falehjamal/framework-websocket-server/internal/cluster"
	"github.com/falehjamal/framework-websocket-server/internal/config"
	"github.com/falehjamal/framework-websocket-server/internal/metrics"
	"github.com/falehjamal/framework-websocket-server/internal/modules/admin"
	"github.com/falehjamal/framework-websocket-server/internal/modules/prescription"
	"github.com/falehjamal/framework-websocket-server/internal/modules/queue"
	"github.com/falehjamal/framework-websocket-server/internal/platform/logging"
	"github.com/falehjamal/framework-websocket-server/internal/redis"
	"github.com/falehjamal/framework-websocket-server/internal/relay"
	"github.com/falehjamal/framework-websocket-server/internal/server"
	"github.com/falehjamal/framework-websocket-server/internal/transport"
)

const synchronizerInitTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewCircuitBreakerHook())
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupMetrics() (*prometheus.Registry, *metrics.TransportMetrics, *metrics.BroadcastMetrics, *metrics.ClusterMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry,
		metrics.NewTransportMetrics(registry),
		metrics.NewBroadcastMetrics(registry),
		metrics.NewClusterMetrics(registry)
}

func runGracefulShutdown(cfg *config.Config, srv *server.Server, sync *cluster.Synchronizer, hub *transport.Hub, stopHeartbeat context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopHeartbeat()
		sync.Shutdown()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "node_id", cfg.NodeID)

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	promRegistry, transportMetrics, broadcastMetrics, clusterMetrics := setupMetrics()

	hub := transport.NewHub(clock, transportMetrics)
	registry := relay.NewRegistry(hub, clock)
	router := relay.NewRouter(hub, nil, broadcastMetrics)

	synchronizer := cluster.NewSynchronizer(redisClient, cfg.SyncTopic, cfg.NodeID, router, clock, clusterMetrics)
	router.SetPublisher(synchronizer)

	nodeRegistry := cluster.NewNodeRegistry(redisClient, cfg.NodeID, cfg.NodeHeartbeatInterval, clock, hub.ConnectionCount)

	modules := []server.Module{
		queue.New(registry, router, hub, cfg.GroupLabelClearOnEmpty),
		prescription.New(registry, router, hub),
		admin.New(registry, router, hub, nodeRegistry),
	}

	hub.OnConnect(func(connID, remoteAddr string) {
		registry.Attach(connID, remoteAddr)
	})
	hub.OnDisconnect(func(connID string) {
		vacated := registry.Detach(connID)
		if cfg.GroupLabelClearOnEmpty {
			for _, groupID := range vacated {
				registry.ClearLabelIfEmpty(groupID)
			}
		}
		for _, m := range modules {
			if hooker, ok := m.(server.DisconnectHooker); ok {
				hooker.HandleDisconnect(connID)
			}
		}
	})

	initCtx, cancelInit := context.WithTimeout(context.Background(), synchronizerInitTimeout)
	if err := synchronizer.Initialize(initCtx); err != nil {
		cancelInit()
		slog.Error("Failed to initialize cross-node synchronizer", "error", err)
		os.Exit(1)
	}
	cancelInit()

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	go nodeRegistry.Start(heartbeatCtx)

	healthChecks := []server.HealthCheck{
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		{Name: "synchronizer", Check: func(ctx context.Context) error {
			if state := synchronizer.State(); state != cluster.StateReady {
				return errors.New("synchronizer not ready: " + state.String())
			}
			return nil
		}},
	}

	srv, err := server.NewServer(cfg, hub, registry, modules, healthChecks, promRegistry)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(cfg, srv, synchronizer, hub, stopHeartbeat)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
