package api

import (
	"net/http"
	"strings"
)

// AuthMiddleware validates the Bearer token in the Authorization header
// against the admin token. An empty admin token disables auth.
func AuthMiddleware(adminToken string, next http.Handler) http.Handler {
	if adminToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			WriteUnauthorized(w, "missing Authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			WriteUnauthorized(w, "invalid Authorization header format")
			return
		}

		if auth[len(prefix):] != adminToken {
			WriteUnauthorized(w, "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
