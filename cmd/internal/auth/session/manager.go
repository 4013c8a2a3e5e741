package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"secretwall/cmd/identity"
	"secretwall/cmd/security/token"
)

// State is the per-request view of a session.
type State struct {
	token   string
	rec     Record
	stored  bool
	account *identity.Account

	// degraded marks a cookie whose record could not be read. rec is not
	// the stored record then and must not be written back.
	degraded bool
}

// Account returns the authenticated account, if any.
func (s *State) Account() (identity.Account, bool) {
	if s == nil || s.account == nil {
		return identity.Account{}, false
	}
	return *s.account, true
}

func (s *State) Authenticated() bool { return s != nil && s.account != nil }

// OAuthNonce returns the nonce of a pending federated handshake.
func (s *State) OAuthNonce() string {
	if s == nil {
		return ""
	}
	return s.rec.OAuthNonce
}

type ctxKey struct{}

func withState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, ctxKey{}, st)
}

// FromContext returns the State installed by Manager.Middleware, or nil.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(ctxKey{}).(*State)
	return st
}

// AccountFromContext is shorthand for FromContext(ctx).Account().
func AccountFromContext(ctx context.Context) (identity.Account, bool) {
	return FromContext(ctx).Account()
}

// Manager moves sessions between the cookie, the Store and the Serializer.
type Manager struct {
	cfg        Config
	store      Store
	serializer Serializer
	hasher     token.Hasher
	log        *slog.Logger
	now        func() time.Time
}

func NewManager(cfg Config, store Store, serializer Serializer, hasher token.Hasher, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		serializer: serializer,
		hasher:     hasher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) Ping(ctx context.Context) error { return m.store.Ping(ctx) }

// Middleware loads the session for every request and installs it in the
// request context. Clients without a valid session get a fresh one and its
// cookie on this response. A failing store degrades to an anonymous request.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		st := m.load(ctx, r)

		if !st.stored {
			if err := m.issue(ctx, w, st, Record{CreatedAt: m.now()}); err != nil {
				m.log.Warn("session.create.fail", "err", err)
			}
		}

		next.ServeHTTP(w, r.WithContext(withState(ctx, st)))
	})
}

func (m *Manager) load(ctx context.Context, r *http.Request) *State {
	tok, ok := m.tokenFromCookie(r)
	if !ok {
		return &State{}
	}

	key := m.hasher.HashHex(tok)
	rec, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return &State{}
	case errors.Is(err, ErrCorruptRecord):
		m.log.Warn("session.load.corrupt", "err", err)
		return &State{}
	default:
		// Keep the cookie; the store may recover on the next request.
		m.log.Warn("session.load.fail", "err", err)
		return &State{token: tok, stored: true, degraded: true}
	}

	st := &State{token: tok, rec: rec, stored: true}

	if err := m.store.Touch(ctx, key, m.cfg.TTL); err != nil && !errors.Is(err, ErrNotFound) {
		m.log.Warn("session.touch.fail", "err", err)
	}

	if rec.AccountID == "" {
		return st
	}

	acct, err := m.serializer.Deserialize(ctx, rec.AccountID)
	switch {
	case err == nil:
		st.account = &acct
	case errors.Is(err, ErrUnresolvedIdentity):
		m.log.Info("session.identity.unresolved", "account_id", rec.AccountID)
		st.rec.AccountID = ""
		if err := m.store.Set(ctx, key, st.rec, m.cfg.TTL); err != nil {
			m.log.Warn("session.save.fail", "err", err)
		}
	default:
		m.log.Warn("session.identity.fail", "account_id", rec.AccountID, "err", err)
	}
	return st
}

// Login binds acct to the session under a new token and drops the old one.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, st *State, acct identity.Account) error {
	old := st.token
	if err := m.issue(ctx, w, st, Record{AccountID: m.serializer.Serialize(acct), CreatedAt: m.now()}); err != nil {
		return err
	}
	st.account = &acct
	m.discard(ctx, old)
	return nil
}

// Logout clears the session payload and rotates the token. When the store
// rejects the new session the cookie is expired instead.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, st *State) error {
	old := st.token
	st.account = nil
	m.discard(ctx, old)

	if err := m.issue(ctx, w, st, Record{CreatedAt: m.now()}); err != nil {
		st.token, st.stored = "", false
		m.expireCookie(w)
		return err
	}
	return nil
}

// SetOAuthNonce records (or with "" clears) the pending handshake nonce.
func (m *Manager) SetOAuthNonce(ctx context.Context, w http.ResponseWriter, st *State, nonce string) error {
	if st.degraded {
		return fmt.Errorf("session: set oauth nonce: %w", ErrStoreUnavailable)
	}
	if st.token == "" {
		rec := st.rec
		rec.OAuthNonce = nonce
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = m.now()
		}
		return m.issue(ctx, w, st, rec)
	}

	rec := st.rec
	rec.OAuthNonce = nonce
	if err := m.store.Set(ctx, m.hasher.HashHex(st.token), rec, m.cfg.TTL); err != nil {
		return err
	}
	st.rec = rec
	return nil
}

// issue stores rec under a fresh token and sends the cookie.
func (m *Manager) issue(ctx context.Context, w http.ResponseWriter, st *State, rec Record) error {
	tok, err := token.NewOpaque(m.cfg.TokenBytes)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.hasher.HashHex(tok), rec, m.cfg.TTL); err != nil {
		return err
	}

	st.token, st.rec, st.stored = tok, rec, true
	m.setCookie(w, tok)
	return nil
}

func (m *Manager) discard(ctx context.Context, tok string) {
	if tok == "" {
		return
	}
	if err := m.store.Delete(ctx, m.hasher.HashHex(tok)); err != nil {
		m.log.Warn("session.delete.fail", "err", err)
	}
}

func (m *Manager) tokenFromCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" || len(v) > 128 {
		return "", false
	}
	return v, true
}

// setCookie replaces any cookie of the same name already queued on w, so a
// rotation within one request leaves a single Set-Cookie for the session.
func (m *Manager) setCookie(w http.ResponseWriter, value string) {
	m.writeCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) expireCookie(w http.ResponseWriter) {
	m.writeCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) writeCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	prefix := c.Name + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	http.SetCookie(w, c)
}
