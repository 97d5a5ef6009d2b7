// API authentication middleware: static bearer token.
//
// Every route except /api/health and /metrics MUST carry:
//
//	Authorization: Bearer <token>
//
// or:
//
//	X-API-Key: <token>
//
// WebSocket upgrade requests may pass the token as a query param instead:
//
//	wss://host/api/ws?token=<token>
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// authMiddleware wraps a handler with bearer token checking. An empty token
// disables the check; NewServer generates one, so this only happens when
// the system random source failed.
func authMiddleware(token string) func(http.Handler) http.Handler {
	if token == "" {
		logger.WarnC("auth", "API auth DISABLED: no token available")
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// OPTIONS preflight is answered by the CORS middleware
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if !tokenValid(extractToken(r), token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="relay"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "unauthorized: bearer token required",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the bearer token from Authorization header,
// X-API-Key header, or ?token= query param (for WebSocket upgrades).
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	return ""
}

// tokenValid compares in constant time.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
