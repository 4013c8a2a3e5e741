// Package app wires the secretwall runtime: config, logging, stores, HTTP
// routes and the live wall feed.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"secretwall/cmd/identity"
	"secretwall/cmd/internal/auth/credentials"
	"secretwall/cmd/internal/auth/oauth"
	"secretwall/cmd/internal/auth/session"
	"secretwall/cmd/internal/metrics"
	"secretwall/cmd/internal/realtime"
	"secretwall/cmd/internal/web"
)

// App owns the HTTP server wiring and every long-lived dependency.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  redis.UniversalClient

	accounts identity.Store
	sessions *session.Manager
	hub      *realtime.Hub
	metrics  *metrics.Metrics
	web      *web.Handler

	handler http.Handler
}

// New constructs a fully wired App. Empty DATABASE_URL and REDIS_URL select
// the in-memory stores.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{cfg: cfg, log: log, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	hasher, err := sessionHasher(cfg)
	if err != nil {
		return nil, err
	}

	if a.accounts, err = a.openAccounts(ctx); err != nil {
		return nil, err
	}
	sessStore, err := a.openSessions(ctx)
	if err != nil {
		return nil, err
	}

	verifier, err := credentials.NewVerifier(a.accounts, cfg.Passwords, log)
	if err != nil {
		return nil, err
	}
	a.sessions = session.NewManager(cfg.Session, sessStore, session.NewSerializer(a.accounts), hasher, log)

	a.hub = realtime.NewHub(log)
	a.metrics.WatchGauge("live_viewers", "Connected live wall viewers.", func() float64 {
		return float64(a.hub.Count())
	})
	live := realtime.NewGateway(log, a.hub, cfg.Gateway, liveViewer)

	deps := web.Deps{
		Log:         log,
		Credentials: verifier,
		Wall:        a.accounts,
		Sessions:    a.sessions,
		Live:        live,
		Publisher:   a.hub,
		Metrics:     a.metrics,
	}
	if cfg.OAuth.Enabled() {
		g, err := oauth.NewGoogle(cfg.OAuth)
		if err != nil {
			return nil, err
		}
		deps.Google = g
		log.Info("auth.google.enabled", "callback_url", cfg.OAuth.CallbackURL)
	}
	if a.web, err = web.New(deps); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)
	a.handler = WithSecurityHeaders(WithRequestLogging(mux, log, a.metrics))

	return a, nil
}

func (a *App) openAccounts(ctx context.Context) (identity.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	if a.cfg.DBMigrate {
		n, err := Migrate(ctx, pool)
		if err != nil {
			return nil, err
		}
		a.log.Info("db.migrate.ok", "applied", n)
	}

	a.log.Info("db.enabled.postgres_store")
	return identity.NewPostgresStore(pool)
}

func (a *App) openSessions(ctx context.Context) (session.Store, error) {
	if a.cfg.RedisURL == "" {
		a.log.Info("redis.disabled.inmemory_sessions")
		return session.NewMemoryStore(), nil
	}

	rdb, err := NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb

	a.log.Info("redis.enabled.session_store", "prefix", a.cfg.Session.KeyPrefix)
	return session.NewRedisStore(rdb, a.cfg.Session.KeyPrefix), nil
}

func liveViewer(r *http.Request) (string, bool) {
	acct, ok := session.AccountFromContext(r.Context())
	return acct.ID, ok
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"public_url", a.cfg.PublicURL,
		"live_url", wsBaseURL(a.cfg.PublicURL)+"/secrets/live",
		"db_enabled", a.pool != nil,
		"redis_enabled", a.rdb != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	a.close()

	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
