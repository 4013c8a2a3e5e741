package app

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := a.accounts.Ping(ctx); err != nil {
			a.log.Info("readyz.accounts.not_ready", "err", err)
			http.Error(w, "accounts store not ready", http.StatusServiceUnavailable)
			return
		}
		if err := a.sessions.Ping(ctx); err != nil {
			a.log.Info("readyz.sessions.not_ready", "err", err)
			http.Error(w, "session store not ready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", a.metrics.Handler())

	a.web.Register(mux)
}
