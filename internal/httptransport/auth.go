package httptransport

import (
	"net/http"
	"strings"
)

// extractAPIKey reads the caller's API key from X-API-Key or an
// Authorization: Bearer header, X-API-Key taking precedence.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

// adminAuth gates the admin surface behind a single bootstrap key. An
// empty configured key disables the surface entirely rather than leaving
// it open, since an operator who never set one almost certainly doesn't
// intend to expose key management.
func adminAuth(bootstrapKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bootstrapKey == "" {
				writeSimpleError(w, http.StatusServiceUnavailable, "admin_disabled", "admin surface has no bootstrap key configured")
				return
			}
			if extractAPIKey(r) != bootstrapKey {
				writeSimpleError(w, http.StatusUnauthorized, "invalid_admin_key", "missing or invalid admin bootstrap key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
