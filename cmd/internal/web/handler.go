package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"secretwall/cmd/identity"
	"secretwall/cmd/internal/auth/credentials"
	"secretwall/cmd/internal/auth/oauth"
	"secretwall/cmd/internal/auth/session"
	"secretwall/cmd/internal/metrics"
	"secretwall/cmd/security/token"
)

const (
	maxFormBytes = 16 << 10
	nonceBytes   = 16
)

// Credentials is the account-facing half of authentication.
type Credentials interface {
	Register(ctx context.Context, username, password string) (identity.Account, error)
	Authenticate(ctx context.Context, username, password string) (identity.Account, error)
	FindOrCreateFederated(ctx context.Context, provider, subject string) (identity.Account, error)
}

// Wall reads and writes secrets.
type Wall interface {
	SetSecret(ctx context.Context, id, secret string, now time.Time) (identity.Account, error)
	ListWithSecrets(ctx context.Context) ([]identity.Account, error)
}

// Provider runs the federated handshake. *oauth.Google implements it.
type Provider interface {
	AuthCodeURL(nonce string) (string, error)
	Complete(ctx context.Context, query url.Values, nonce string) (oauth.Profile, error)
}

// Publisher announces new secrets to live viewers.
type Publisher interface {
	PublishSecret(secret string)
}

// Deps are the collaborators of Handler. Google, Live, Publisher and Metrics
// are optional.
type Deps struct {
	Log         *slog.Logger
	Credentials Credentials
	Wall        Wall
	Sessions    *session.Manager
	Google      Provider
	Live        http.Handler
	Publisher   Publisher
	Metrics     *metrics.Metrics
}

// Handler serves the page and form routes.
type Handler struct {
	log      *slog.Logger
	creds    Credentials
	wall     Wall
	sessions *session.Manager
	google   Provider
	live     http.Handler
	pub      Publisher
	metrics  *metrics.Metrics
	pages    pages
	now      func() time.Time
}

func New(d Deps) (*Handler, error) {
	if d.Credentials == nil || d.Wall == nil || d.Sessions == nil {
		return nil, errors.New("web: credentials, wall and sessions are required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	p, err := parsePages()
	if err != nil {
		return nil, err
	}
	return &Handler{
		log:      d.Log,
		creds:    d.Credentials,
		wall:     d.Wall,
		sessions: d.Sessions,
		google:   d.Google,
		live:     d.Live,
		pub:      d.Publisher,
		metrics:  d.Metrics,
		pages:    p,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register mounts every route on mux. Session-aware routes run inside the
// session middleware; static assets do not.
func (h *Handler) Register(mux *http.ServeMux) {
	s := h.sessions.Middleware

	mux.Handle("GET /{$}", s(h.page("home", "Secrets")))
	mux.Handle("GET /login", s(h.page("login", "Login")))
	mux.Handle("GET /register", s(h.page("register", "Register")))
	mux.Handle("GET /about", s(h.page("about", "About")))
	mux.Handle("GET /welcome", s(h.page("welcome", "Welcome")))

	mux.Handle("POST /register", s(http.HandlerFunc(h.handleRegister)))
	mux.Handle("POST /login", s(http.HandlerFunc(h.handleLogin)))
	mux.Handle("GET /logout", s(http.HandlerFunc(h.handleLogout)))

	mux.Handle("GET /secrets", s(RequireAuth(http.HandlerFunc(h.handleSecrets))))
	mux.Handle("GET /submit", s(RequireAuth(http.HandlerFunc(h.handleSubmitForm))))
	mux.Handle("POST /submit", s(RequireAuth(http.HandlerFunc(h.handleSubmit))))
	if h.live != nil {
		mux.Handle("GET /secrets/live", s(RequireAuth(h.live)))
	}

	mux.Handle("GET /auth/google", s(http.HandlerFunc(h.handleGoogleStart)))
	mux.Handle("GET "+oauth.CallbackPath, s(http.HandlerFunc(h.handleGoogleCallback)))

	mux.Handle("GET /static/", staticFiles())
}

func (h *Handler) page(name, title string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.render(w, http.StatusOK, name, pageData{Title: title, Viewer: viewerFrom(r)})
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	username, password, ok := h.credentialsForm(w, r)
	if !ok {
		h.renderError(w, r, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	acct, err := h.creds.Register(ctx, username, password)
	switch {
	case err == nil:
	case errors.Is(err, credentials.ErrDuplicateUsername):
		h.metrics.AuthAttempt(metrics.SchemeRegister, metrics.ResultFailure)
		h.log.Info("auth.register.duplicate")
		h.renderError(w, r, http.StatusConflict)
		return
	case credentials.IsInvalidInput(err):
		h.metrics.AuthAttempt(metrics.SchemeRegister, metrics.ResultFailure)
		h.log.Info("auth.register.invalid", "err", err)
		h.renderError(w, r, http.StatusBadRequest)
		return
	default:
		h.metrics.AuthAttempt(metrics.SchemeRegister, metrics.ResultError)
		h.log.Error("auth.register.fail", "err", err)
		h.renderError(w, r, http.StatusInternalServerError)
		return
	}

	if err := h.sessions.Login(ctx, w, session.FromContext(ctx), acct); err != nil {
		h.log.Error("session.login.fail", "account_id", acct.ID, "err", err)
		h.renderError(w, r, http.StatusInternalServerError)
		return
	}
	h.metrics.AuthAttempt(metrics.SchemeRegister, metrics.ResultSuccess)
	h.log.Info("auth.register.ok", "account_id", acct.ID)
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, ok := h.credentialsForm(w, r)
	if !ok {
		h.renderError(w, r, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	acct, err := h.creds.Authenticate(ctx, username, password)
	switch {
	case err == nil:
	case errors.Is(err, credentials.ErrInvalidCredentials), credentials.IsInvalidInput(err):
		h.metrics.AuthAttempt(metrics.SchemeLocal, metrics.ResultFailure)
		h.log.Info("auth.login.fail")
		h.renderError(w, r, http.StatusUnauthorized)
		return
	default:
		h.metrics.AuthAttempt(metrics.SchemeLocal, metrics.ResultError)
		h.log.Error("auth.login.error", "err", err)
		h.renderError(w, r, http.StatusInternalServerError)
		return
	}

	if err := h.sessions.Login(ctx, w, session.FromContext(ctx), acct); err != nil {
		h.log.Error("session.login.fail", "account_id", acct.ID, "err", err)
		h.renderError(w, r, http.StatusInternalServerError)
		return
	}
	h.metrics.AuthAttempt(metrics.SchemeLocal, metrics.ResultSuccess)
	h.log.Info("auth.login.ok", "account_id", acct.ID)
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.sessions.Logout(ctx, w, session.FromContext(ctx)); err != nil {
		h.log.Warn("session.logout.fail", "err", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleSecrets(w http.ResponseWriter, r *http.Request) {
	accts, err := h.wall.ListWithSecrets(r.Context())
	if err != nil {
		h.log.Error("wall.list.fail", "err", err)
		h.renderError(w, r, http.StatusInternalServerError)
		return
	}

	secrets := make([]string, 0, len(accts))
	for _, a := range accts {
		if a.HasSecret() {
			secrets = append(secrets, *a.Secret)
		}
	}
	h.render(w, http.StatusOK, "secrets", pageData{Title: "Secrets", Viewer: true, Secrets: secrets})
}

func (h *Handler) handleSubmitForm(w http.ResponseWriter, _ *http.Request) {
	h.render(w, http.StatusOK, "submit", pageData{Title: "Submit", Viewer: true, MaxSecret: identity.MaxSecretLength})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, _ := session.AccountFromContext(ctx)

	if !h.parseForm(w, r) {
		h.renderError(w, r, http.StatusBadRequest)
		return
	}

	updated, err := h.wall.SetSecret(ctx, acct.ID, r.PostForm.Get("secret"), h.now())
	switch {
	case err == nil:
	case identity.IsInvalidInput(err):
		h.log.Info("wall.submit.invalid", "account_id", acct.ID, "err", err)
		h.renderError(w, r, http.StatusBadRequest)
		return
	default:
		// A missing account lands here too: the session outlived its owner.
		h.log.Error("wall.submit.fail", "account_id", acct.ID, "err", err)
		h.renderError(w, r, http.StatusInternalServerError)
		return
	}

	h.metrics.SecretSubmitted()
	if h.pub != nil && updated.Secret != nil {
		h.pub.PublishSecret(*updated.Secret)
	}
	h.log.Info("wall.submit.ok", "account_id", acct.ID)
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (h *Handler) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}

	ctx := r.Context()
	nonce, err := token.NewOpaque(nonceBytes)
	if err != nil {
		h.log.Error("auth.google.nonce.fail", "err", err)
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}
	if err := h.sessions.SetOAuthNonce(ctx, w, session.FromContext(ctx), nonce); err != nil {
		h.log.Error("auth.google.session.fail", "err", err)
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}

	target, err := h.google.AuthCodeURL(nonce)
	if err != nil {
		h.log.Error("auth.google.start.fail", "err", err)
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}

	ctx := r.Context()
	st := session.FromContext(ctx)

	fail := func(event string, err error) {
		h.metrics.AuthAttempt(metrics.SchemeGoogle, metrics.ResultFailure)
		h.log.Info(event, "err", err)
		if st.OAuthNonce() != "" {
			if err := h.sessions.SetOAuthNonce(ctx, w, st, ""); err != nil {
				h.log.Warn("auth.google.nonce.clear.fail", "err", err)
			}
		}
		http.Redirect(w, r, loginPath, http.StatusFound)
	}

	nonce := st.OAuthNonce()
	if nonce == "" {
		fail("auth.google.callback.unsolicited", oauth.ErrHandshakeFailed)
		return
	}

	profile, err := h.google.Complete(ctx, r.URL.Query(), nonce)
	if err != nil {
		fail("auth.google.callback.fail", err)
		return
	}

	acct, err := h.creds.FindOrCreateFederated(ctx, identity.ProviderGoogle, profile.Subject)
	if err != nil {
		h.log.Error("auth.google.account.fail", "err", err)
		fail("auth.google.callback.fail", err)
		return
	}

	// The fresh record carries no nonce.
	if err := h.sessions.Login(ctx, w, st, acct); err != nil {
		h.log.Error("session.login.fail", "account_id", acct.ID, "err", err)
		fail("auth.google.callback.fail", err)
		return
	}
	h.metrics.AuthAttempt(metrics.SchemeGoogle, metrics.ResultSuccess)
	h.log.Info("auth.google.ok", "account_id", acct.ID)
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.log.Info("web.form.invalid", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

func (h *Handler) credentialsForm(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if !h.parseForm(w, r) {
		return "", "", false
	}
	return strings.TrimSpace(r.PostForm.Get("username")), r.PostForm.Get("password"), true
}
