package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"secretwall/cmd/internal/auth/oauth"
	"secretwall/cmd/internal/auth/session"
	"secretwall/cmd/internal/realtime"
	"secretwall/cmd/security/password"
)

const envPrefix = "SECRETWALL_"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:3000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// PublicURL is the externally visible base URL. Empty means derived from HTTPAddr.
	PublicURL string `env:"PUBLIC_URL"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Empty DatabaseURL keeps accounts in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	DBMigrate   bool   `env:"DB_MIGRATE" envDefault:"true"`

	// Empty RedisURL keeps sessions in memory.
	RedisURL string `env:"REDIS_URL"`

	// If true, TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session digests are HMAC-based.
	TokenHMACKey     string `env:"TOKEN_HMAC_KEY"`
	RequireTokenHMAC bool   `env:"REQUIRE_TOKEN_HMAC" envDefault:"false"`

	// Component configs, filled by their own loaders.
	Session   session.Config
	OAuth     oauth.Config
	Gateway   realtime.GatewayConfig
	Passwords password.Config
}

// platformEnv holds variables read without the SECRETWALL_ prefix.
type platformEnv struct {
	Port string `env:"PORT"`
}

// LoadConfig loads Config and every component config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var plat platformEnv
	if err := env.Parse(&plat); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if p := strings.TrimSpace(plat.Port); p != "" {
		cfg.HTTPAddr = ":" + p
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = runtimeBaseURL(cfg.HTTPAddr)
	}

	var err error
	if cfg.Session, err = session.LoadConfigFromEnv(); err != nil {
		return Config{}, err
	}
	if cfg.OAuth, err = oauth.LoadConfigFromEnv(); err != nil {
		return Config{}, err
	}
	cfg.OAuth = cfg.OAuth.WithPublicURL(cfg.PublicURL)
	if cfg.Gateway, err = realtime.LoadGatewayConfigFromEnv(); err != nil {
		return Config{}, err
	}
	if cfg.Passwords, err = password.FromEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("config: DB_MIN_CONNS/DB_MAX_CONNS out of range")
	}
	return c.OAuth.Validate()
}

// runtimeBaseURL turns a listen address into a URL a local browser can reach.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL onto the matching ws(s) scheme.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
