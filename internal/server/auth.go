package server

import (
	"crypto/subtle"
	"net/http"
)

const authRealm = "mathom"

// authMiddleware returns a middleware that enforces HTTP Basic authentication
// against a shared password. The user name is ignored.
// If password is empty, auth is disabled (development mode).
func authMiddleware(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if password == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, pass, ok := r.BasicAuth(); ok {
				if subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="`+authRealm+`"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}
