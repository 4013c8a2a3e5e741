package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretwall/cmd/identity"
	"secretwall/cmd/internal/auth/credentials"
	"secretwall/cmd/internal/auth/oauth"
	"secretwall/cmd/internal/auth/session"
	"secretwall/cmd/internal/metrics"
	"secretwall/cmd/security/password"
	"secretwall/cmd/security/token"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.Policy.RejectVeryWeak = true
	return cfg
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []string
}

func (p *recordingPublisher) PublishSecret(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, s)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.got...)
}

// fakeGoogle echoes the nonce as state and accepts only that value back.
type fakeGoogle struct {
	subject string
}

func (fakeGoogle) AuthCodeURL(nonce string) (string, error) {
	return "https://accounts.example.test/o/oauth2/auth?state=" + url.QueryEscape(nonce), nil
}

func (g fakeGoogle) Complete(_ context.Context, q url.Values, nonce string) (oauth.Profile, error) {
	if q.Get("error") != "" || q.Get("state") != nonce || q.Get("code") == "" {
		return oauth.Profile{}, oauth.ErrHandshakeFailed
	}
	return oauth.Profile{Subject: g.subject, Name: "Grace"}, nil
}

// countingCreds records federated calls made through the real verifier.
type countingCreds struct {
	*credentials.Verifier
	federated atomic.Int32
}

func (c *countingCreds) FindOrCreateFederated(ctx context.Context, provider, subject string) (identity.Account, error) {
	c.federated.Add(1)
	return c.Verifier.FindOrCreateFederated(ctx, provider, subject)
}

// brokenWall fails selected operations on top of a working store.
type brokenWall struct {
	*identity.MemoryStore
	listErr error
	setErr  error
}

func (w brokenWall) ListWithSecrets(ctx context.Context) ([]identity.Account, error) {
	if w.listErr != nil {
		return nil, w.listErr
	}
	return w.MemoryStore.ListWithSecrets(ctx)
}

func (w brokenWall) SetSecret(ctx context.Context, id, secret string, now time.Time) (identity.Account, error) {
	if w.setErr != nil {
		return identity.Account{}, w.setErr
	}
	return w.MemoryStore.SetSecret(ctx, id, secret, now)
}

type fixture struct {
	srv      *httptest.Server
	accounts *identity.MemoryStore
	creds    *countingCreds
	pub      *recordingPublisher
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, tweak func(*Deps)) *fixture {
	t.Helper()
	log := quietLog()
	accounts := identity.NewMemoryStore()

	v, err := credentials.NewVerifier(accounts, cheapPasswords(), log)
	require.NoError(t, err)

	f := &fixture{
		accounts: accounts,
		creds:    &countingCreds{Verifier: v},
		pub:      &recordingPublisher{},
		metrics:  metrics.New(),
	}

	mgr := session.NewManager(session.DefaultConfig(), session.NewMemoryStore(), session.NewSerializer(accounts), token.Hasher{}, log)
	d := Deps{
		Log:         log,
		Credentials: f.creds,
		Wall:        accounts,
		Sessions:    mgr,
		Publisher:   f.pub,
		Metrics:     f.metrics,
	}
	if tweak != nil {
		tweak(&d)
	}

	h, err := New(d)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (f *fixture) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: f.srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (int, http.Header, string) {
	b.t.Helper()
	res, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(b.t, err)
	return res.StatusCode, res.Header, string(body)
}

func (b *browser) get(path string) (int, http.Header, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (int, http.Header, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func creds(user, pass string) url.Values {
	return url.Values{"username": {user}, "password": {pass}}
}

func TestPublicPages(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	for _, path := range []string{"/", "/login", "/register", "/about", "/welcome"} {
		status, hdr, body := b.get(path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.Contains(t, hdr.Get("Content-Type"), "text/html", path)
		assert.Contains(t, body, "<html", path)
	}

	status, _, _ := b.get("/nope")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFirstResponseSetsSessionCookie(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	_, hdr, _ := b.get("/")
	c := hdr.Get("Set-Cookie")
	require.NotEmpty(t, c)
	assert.Contains(t, c, "secretwall_session=")
	assert.Contains(t, c, "HttpOnly")
	assert.Contains(t, c, "SameSite=Lax")

	_, hdr, _ = b.get("/about")
	assert.Empty(t, hdr.Get("Set-Cookie"), "existing session is reused")
}

func TestGate_RedirectsAnonymous(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	for _, path := range []string{"/secrets", "/submit"} {
		status, hdr, _ := b.get(path)
		assert.Equal(t, http.StatusFound, status, path)
		assert.Equal(t, "/login", hdr.Get("Location"), path)
	}

	status, hdr, _ := b.post("/submit", url.Values{"secret": {"sneaky"}})
	assert.Equal(t, http.StatusFound, status)
	assert.Equal(t, "/login", hdr.Get("Location"))
	assert.Empty(t, f.pub.published())
}

func TestRegisterSubmitLogoutLogin(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	status, hdr, _ := b.post("/register", creds("alice@example.com", "correct horse"))
	require.Equal(t, http.StatusFound, status)
	require.Equal(t, "/secrets", hdr.Get("Location"))

	status, _, body := b.get("/secrets")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "No secrets yet.")

	status, _, body = b.get("/submit")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `name="secret"`)

	for _, s := range []string{"S1", "S2"} {
		status, hdr, _ = b.post("/submit", url.Values{"secret": {s}})
		require.Equal(t, http.StatusFound, status)
		require.Equal(t, "/secrets", hdr.Get("Location"))
	}

	_, _, body = b.get("/secrets")
	assert.Equal(t, 1, strings.Count(body, ">S2<"))
	assert.NotContains(t, body, ">S1<")
	assert.Equal(t, []string{"S1", "S2"}, f.pub.published())

	status, hdr, _ = b.get("/logout")
	require.Equal(t, http.StatusFound, status)
	assert.Equal(t, "/", hdr.Get("Location"))

	status, hdr, _ = b.get("/secrets")
	assert.Equal(t, http.StatusFound, status)
	assert.Equal(t, "/login", hdr.Get("Location"))

	status, hdr, _ = b.post("/login", creds("Alice@Example.com", "correct horse"))
	require.Equal(t, http.StatusFound, status)
	require.Equal(t, "/secrets", hdr.Get("Location"))

	status, _, body = b.get("/secrets")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, ">S2<")
}

func TestSecretsVisibleToOtherUsers(t *testing.T) {
	f := newFixture(t, nil)

	alice := f.browser(t)
	status, _, _ := alice.post("/register", creds("alice", "alice-password"))
	require.Equal(t, http.StatusFound, status)
	status, _, _ = alice.post("/submit", url.Values{"secret": {"<b>I fear pigeons</b>"}})
	require.Equal(t, http.StatusFound, status)

	bob := f.browser(t)
	status, _, _ = bob.post("/register", creds("bob", "bob-password"))
	require.Equal(t, http.StatusFound, status)

	status, _, body := bob.get("/secrets")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "&lt;b&gt;I fear pigeons&lt;/b&gt;")
	assert.NotContains(t, body, "alice", "the wall is anonymous")
}

func TestRegister_Failures(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	status, _, _ := b.post("/register", creds("carol", "first-password"))
	require.Equal(t, http.StatusFound, status)
	b.get("/logout")

	status, _, body := b.post("/register", creds("CAROL", "second-password"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, genericError)
	assert.NotContains(t, body, "username")

	status, _, _ = b.post("/login", creds("carol", "first-password"))
	assert.Equal(t, http.StatusFound, status, "first credential still valid")

	cases := []struct {
		name string
		form url.Values
	}{
		{"empty username", creds("", "long-enough-password")},
		{"short password", creds("dave", "short")},
		{"trivial password", creds("erin", "password123")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _, body := f.browser(t).post("/register", tc.form)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, body, genericError)
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	status, _, _ := b.post("/register", creds("frank", "frank-password"))
	require.Equal(t, http.StatusFound, status)

	other := f.browser(t)
	for _, form := range []url.Values{
		creds("frank", "wrong-password"),
		creds("nobody", "frank-password"),
		creds("", ""),
	} {
		status, _, body := other.post("/login", form)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Contains(t, body, genericError)
	}

	status, hdr, _ := other.get("/secrets")
	assert.Equal(t, http.StatusFound, status)
	assert.Equal(t, "/login", hdr.Get("Location"))
}

func TestSubmit_Failures(t *testing.T) {
	t.Run("empty secret", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.browser(t)
		b.post("/register", creds("gina", "gina-password"))

		status, _, _ := b.post("/submit", url.Values{"secret": {"   "}})
		assert.Equal(t, http.StatusBadRequest, status)

		status, _, _ = b.post("/submit", url.Values{"secret": {strings.Repeat("x", identity.MaxSecretLength+1)}})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Empty(t, f.pub.published())
	})

	t.Run("missing account", func(t *testing.T) {
		missing := identity.NotFoundError{Op: "identity.SetSecret", Resource: "account"}
		f := newFixture(t, func(d *Deps) {
			d.Wall = brokenWall{MemoryStore: d.Wall.(*identity.MemoryStore), setErr: missing}
		})
		b := f.browser(t)
		b.post("/register", creds("hank", "hank-password"))

		status, _, body := b.post("/submit", url.Values{"secret": {"s"}})
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Contains(t, body, genericError)
		assert.NotContains(t, body, "account")
	})

	t.Run("store unavailable on list", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Wall = brokenWall{
				MemoryStore: d.Wall.(*identity.MemoryStore),
				listErr:     identity.UnavailableError{Op: "identity.ListWithSecrets", Err: errors.New("dial tcp: refused")},
			}
		})
		b := f.browser(t)
		b.post("/register", creds("ivy", "ivy-password"))

		status, _, body := b.get("/secrets")
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Contains(t, body, genericError)
		assert.NotContains(t, body, "refused")
	})
}

func TestGoogle_Disabled(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	for _, path := range []string{"/auth/google", "/auth/google/secrets?code=x&state=y"} {
		status, hdr, _ := b.get(path)
		assert.Equal(t, http.StatusFound, status, path)
		assert.Equal(t, "/login", hdr.Get("Location"), path)
	}

	_, _, body := b.get("/login")
	assert.NotContains(t, body, "/auth/google")
}

func googleStart(t *testing.T, b *browser) string {
	t.Helper()
	status, hdr, _ := b.get("/auth/google")
	require.Equal(t, http.StatusFound, status)

	loc, err := url.Parse(hdr.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "accounts.example.test", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestGoogle_Handshake(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Google = fakeGoogle{subject: "g-123"} })

	b := f.browser(t)
	_, _, body := b.get("/login")
	assert.Contains(t, body, "/auth/google")

	state := googleStart(t, b)

	status, hdr, _ := b.get("/secrets")
	require.Equal(t, http.StatusFound, status, "no access before the callback")
	require.Equal(t, "/login", hdr.Get("Location"))

	status, hdr, _ = b.get("/auth/google/secrets?code=abc&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusFound, status)
	require.Equal(t, "/secrets", hdr.Get("Location"))

	status, _, _ = b.get("/secrets")
	assert.Equal(t, http.StatusOK, status)

	// A second browser with the same Google subject lands on the same account.
	other := f.browser(t)
	state = googleStart(t, other)
	status, _, _ = other.get("/auth/google/secrets?code=abc&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusFound, status)
	status, _, _ = other.post("/submit", url.Values{"secret": {"shared"}})
	require.Equal(t, http.StatusFound, status)

	_, _, body = b.get("/secrets")
	assert.Equal(t, 1, strings.Count(body, ">shared<"))
	assert.Equal(t, int32(2), f.creds.federated.Load())
}

func TestGoogle_CallbackFailures(t *testing.T) {
	cases := []struct {
		name  string
		query func(state string) string
		start bool
	}{
		{"unsolicited", func(string) string { return "code=abc&state=forged" }, false},
		{"state mismatch", func(string) string { return "code=abc&state=forged" }, true},
		{"provider error", func(s string) string { return "error=access_denied&state=" + url.QueryEscape(s) }, true},
		{"missing code", func(s string) string { return "state=" + url.QueryEscape(s) }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.Google = fakeGoogle{subject: "g-456"} })
			b := f.browser(t)

			state := ""
			if tc.start {
				state = googleStart(t, b)
			}

			status, hdr, _ := b.get("/auth/google/secrets?" + tc.query(state))
			assert.Equal(t, http.StatusFound, status)
			assert.Equal(t, "/login", hdr.Get("Location"))
			assert.Zero(t, f.creds.federated.Load(), "no account touched")

			status, _, _ = b.get("/secrets")
			assert.Equal(t, http.StatusFound, status)

			if tc.start {
				// The nonce is spent: replaying the genuine state fails too.
				status, hdr, _ = b.get("/auth/google/secrets?code=abc&state=" + url.QueryEscape(state))
				assert.Equal(t, http.StatusFound, status)
				assert.Equal(t, "/login", hdr.Get("Location"))
				assert.Zero(t, f.creds.federated.Load())
			}
		})
	}
}

func TestStaticAssets(t *testing.T) {
	f := newFixture(t, nil)
	b := f.browser(t)

	status, hdr, body := b.get("/static/css/styles.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, hdr.Get("Content-Type"), "text/css")
	assert.Contains(t, body, ".secret-text")
	assert.Empty(t, hdr.Get("Set-Cookie"))

	status, _, _ = b.get("/static/missing.css")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLiveRouteIsGated(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, func(d *Deps) {
		d.Live = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			_, ok := session.AccountFromContext(r.Context())
			assert.True(t, ok)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	b := f.browser(t)
	status, hdr, _ := b.get("/secrets/live")
	assert.Equal(t, http.StatusFound, status)
	assert.Equal(t, "/login", hdr.Get("Location"))
	assert.Zero(t, hits.Load())

	b.post("/register", creds("jules", "jules-password"))
	status, _, _ = b.get("/secrets/live")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
