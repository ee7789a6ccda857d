package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenAuth returns a middleware that requires the shared agent token on
// every request, either as an Authorization bearer token or in the
// X-Agent-Token header. An empty configured token disables the check, which
// is how the service runs inside the app where the platform's network
// policy already restricts callers.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenMatches(r, token) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"code":    401,
				"message": "unauthorized",
			})
		})
	}
}

func tokenMatches(r *http.Request, token string) bool {
	presented := r.Header.Get("X-Agent-Token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
