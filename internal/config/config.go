// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	RedisURL  string `env:"REDIS_URL"`
	NodeID    string `env:"NODE_ID"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// SyncTopic is the shared pub/sub topic carrying broadcast envelopes
	// between nodes.
	SyncTopic string `env:"SYNC_TOPIC" default:"relay:broadcasts"`

	// GroupLabelClearOnEmpty controls whether a group's label is dropped
	// once its last member leaves. The alternative keeps the label until a
	// client explicitly overwrites it.
	GroupLabelClearOnEmpty bool `env:"GROUP_LABEL_CLEAR_ON_EMPTY" default:"true"`

	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionsPerSec   float64 `env:"CONNECTIONS_PER_SEC" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"20"`

	NodeHeartbeatInterval time.Duration `env:"NODE_HEARTBEAT_INTERVAL" default:"15s"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.NodeID == "" {
		cfg.NodeID = defaultNodeID()
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive, got %d", cfg.MaxConnectionsPerIP)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\", got %q", cfg.LogFormat)
	}
	return nil
}

// defaultNodeID derives a stable-enough node identity when none is
// configured: hostname plus a random suffix so two nodes on one host never
// collide.
func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host + "-" + uuid.NewString()[:8]
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
