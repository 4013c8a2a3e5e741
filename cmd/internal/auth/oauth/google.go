package oauth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Profile is the part of the provider's user info secretwall keeps.
type Profile struct {
	Subject string
	Name    string
}

// Google drives the handshake against Google's OAuth 2.0 endpoints.
type Google struct {
	oauth       oauth2.Config
	userInfoURL string
	stateKey    []byte
	stateTTL    time.Duration
	timeout     time.Duration
	client      *http.Client
	now         func() time.Time
}

func NewGoogle(cfg Config) (*Google, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = GoogleUserInfoURL
	}

	key := []byte(cfg.StateKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("oauth: state key: %w", err)
		}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"profile"}
	}

	return &Google{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       scopes,
		},
		userInfoURL: userInfo,
		stateKey:    key,
		stateTTL:    cfg.StateTTL,
		timeout:     cfg.Timeout,
		client:      &http.Client{Timeout: cfg.Timeout},
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// AuthCodeURL returns the provider URL for a handshake bound to nonce.
func (g *Google) AuthCodeURL(nonce string) (string, error) {
	if nonce == "" {
		return "", errors.New("oauth: empty nonce")
	}
	state, err := signState(g.stateKey, nonce, g.now(), g.stateTTL)
	if err != nil {
		return "", err
	}
	return g.oauth.AuthCodeURL(state), nil
}

// Complete validates the callback query against the session's nonce, exchanges
// the code and returns the caller's profile.
func (g *Google) Complete(ctx context.Context, query url.Values, nonce string) (Profile, error) {
	if e := query.Get("error"); e != "" {
		return Profile{}, fmt.Errorf("%w: provider returned %q", ErrHandshakeFailed, e)
	}
	if err := verifyState(g.stateKey, query.Get("state"), nonce, g.now()); err != nil {
		return Profile{}, err
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		return Profile{}, fmt.Errorf("%w: missing code", ErrHandshakeFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)

	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: exchange: %w", ErrHandshakeFailed, err)
	}

	profile, err := g.fetchProfile(ctx, tok)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return profile, nil
}

func (g *Google) fetchProfile(ctx context.Context, tok *oauth2.Token) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("userinfo: status %d", resp.StatusCode)
	}

	var payload struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("userinfo: %w", err)
	}
	if strings.TrimSpace(payload.Sub) == "" {
		return Profile{}, errors.New("userinfo: missing sub")
	}
	return Profile{Subject: payload.Sub, Name: payload.Name}, nil
}
