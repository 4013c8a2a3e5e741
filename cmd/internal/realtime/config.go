package realtime

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// GatewayConfig tunes the WebSocket feed. Same-host origins are always allowed;
// AllowedOrigins adds cross-origin ones.
type GatewayConfig struct {
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	OriginRequired bool     `env:"WS_ORIGIN_REQUIRED" envDefault:"true"`

	WriteTimeout     time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	HeartbeatEvery   time.Duration `env:"WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout time.Duration `env:"WS_HEARTBEAT_TIMEOUT" envDefault:"5s"`
	SendQueueSize    int           `env:"WS_SEND_QUEUE" envDefault:"64"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   true,
		WriteTimeout:     5 * time.Second,
		HeartbeatEvery:   25 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		SendQueueSize:    64,
	}
}

// LoadGatewayConfigFromEnv reads SECRETWALL_WS_*.
func LoadGatewayConfigFromEnv() (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "SECRETWALL_"}); err != nil {
		return GatewayConfig{}, fmt.Errorf("realtime config: %w", err)
	}
	if cfg.WriteTimeout <= 0 || cfg.HeartbeatEvery <= 0 || cfg.HeartbeatTimeout <= 0 {
		return GatewayConfig{}, fmt.Errorf("realtime config: timeouts must be positive")
	}
	if cfg.SendQueueSize < 8 {
		cfg.SendQueueSize = 8
	}
	return cfg, nil
}
