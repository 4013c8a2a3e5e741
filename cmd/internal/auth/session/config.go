package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls cookie attributes and server-side record lifetime.
type Config struct {
	// TTL is the inactivity window after which a record expires. Every
	// request that loads the session pushes the expiry out again.
	TTL time.Duration `env:"SESSION_TTL" envDefault:"336h"`

	CookieName   string `env:"SESSION_COOKIE" envDefault:"secretwall_session"`
	CookiePath   string `env:"SESSION_COOKIE_PATH" envDefault:"/"`
	CookieDomain string `env:"SESSION_COOKIE_DOMAIN"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	// KeyPrefix namespaces Redis keys: <prefix>:<digest>.
	KeyPrefix string `env:"SESSION_KEY_PREFIX" envDefault:"secretwall:session"`

	TokenBytes int `env:"SESSION_TOKEN_BYTES" envDefault:"32"`
}

func DefaultConfig() Config {
	return Config{
		TTL:        14 * 24 * time.Hour,
		CookieName: "secretwall_session",
		CookiePath: "/",
		KeyPrefix:  "secretwall:session",
		TokenBytes: 32,
	}
}

// LoadConfigFromEnv reads SECRETWALL_SESSION_* and SECRETWALL_COOKIE_SECURE.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "SECRETWALL_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.TTL < time.Minute:
		return fmt.Errorf("%w: SESSION_TTL must be at least 1m", ErrConfig)
	case strings.TrimSpace(c.CookieName) == "" || strings.ContainsAny(c.CookieName, " ;=,\t"):
		return fmt.Errorf("%w: invalid SESSION_COOKIE", ErrConfig)
	case !strings.HasPrefix(c.CookiePath, "/"):
		return fmt.Errorf("%w: SESSION_COOKIE_PATH must start with /", ErrConfig)
	case strings.TrimSpace(c.KeyPrefix) == "":
		return fmt.Errorf("%w: SESSION_KEY_PREFIX is required", ErrConfig)
	case c.TokenBytes < 32 || c.TokenBytes > 64:
		return fmt.Errorf("%w: SESSION_TOKEN_BYTES out of range [32..64]", ErrConfig)
	}
	return nil
}
