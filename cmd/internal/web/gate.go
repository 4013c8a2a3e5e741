package web

import (
	"net/http"

	"secretwall/cmd/internal/auth/session"
)

const loginPath = "/login"

// RequireAuth runs next only for requests whose session resolved to an
// account. Everyone else is redirected to the login page.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.AccountFromContext(r.Context()); !ok {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func viewerFrom(r *http.Request) bool {
	_, ok := session.AccountFromContext(r.Context())
	return ok
}
