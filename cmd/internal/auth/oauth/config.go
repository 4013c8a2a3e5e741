package oauth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CallbackPath is where Google redirects back to.
const CallbackPath = "/auth/google/secrets"

// GoogleUserInfoURL is the OpenID userinfo endpoint returning the stable "sub".
const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

type Config struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// CallbackURL is the absolute redirect URI registered with Google.
	// Empty means PublicURL + CallbackPath, resolved by WithPublicURL.
	CallbackURL string   `env:"GOOGLE_CALLBACK_URL"`
	Scopes      []string `env:"GOOGLE_SCOPES" envSeparator:"," envDefault:"profile"`

	// StateKey signs the state parameter. Empty means a random per-process key.
	StateKey string        `env:"OAUTH_STATE_KEY"`
	StateTTL time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// Timeout bounds each provider round trip.
	Timeout time.Duration `env:"OAUTH_TIMEOUT" envDefault:"10s"`

	// Endpoint overrides, empty for Google's.
	AuthURL     string `env:"GOOGLE_AUTH_URL"`
	TokenURL    string `env:"GOOGLE_TOKEN_URL"`
	UserInfoURL string `env:"GOOGLE_USERINFO_URL"`
}

// LoadConfigFromEnv reads SECRETWALL_GOOGLE_* and SECRETWALL_OAUTH_*.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "SECRETWALL_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return cfg, nil
}

// Enabled reports whether Google sign-in is configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// WithPublicURL fills CallbackURL from the externally visible base URL when unset.
func (c Config) WithPublicURL(publicURL string) Config {
	if strings.TrimSpace(c.CallbackURL) == "" && publicURL != "" {
		c.CallbackURL = strings.TrimRight(publicURL, "/") + CallbackPath
	}
	return c
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	u, err := url.Parse(c.CallbackURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: GOOGLE_CALLBACK_URL must be an absolute URL", ErrConfig)
	}
	if c.StateTTL <= 0 || c.StateTTL > time.Hour {
		return fmt.Errorf("%w: OAUTH_STATE_TTL out of range (0..1h]", ErrConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: OAUTH_TIMEOUT must be positive", ErrConfig)
	}
	if c.StateKey != "" && len(c.StateKey) < 32 {
		return fmt.Errorf("%w: OAUTH_STATE_KEY must be at least 32 bytes", ErrConfig)
	}
	return nil
}
