package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// CORSPolicy lists the browser origins allowed to call the API with
// credentials. AllowAll mirrors any origin and is meant for development.
type CORSPolicy struct {
	AllowAll       bool
	AllowedOrigins []string
}

// CORS answers preflight requests and sets credentialed CORS headers for
// allowed origins. Requests without an Origin header pass through untouched.
// Rejected origins get no CORS headers and are logged at warn.
func CORS(policy CORSPolicy, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if policy.AllowAll || isOriginAllowed(origin, policy.AllowedOrigins) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, If-None-Match, X-CSRF-Token, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", "ETag, X-Request-ID, Retry-After")
				h.Set("Access-Control-Max-Age", "86400")
			} else {
				logger.Warn().
					Str("origin", origin).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("CORS request rejected: origin not allowed")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	origin = strings.ToLower(strings.TrimSpace(origin))
	for _, allowed := range allowedOrigins {
		if strings.ToLower(strings.TrimSpace(allowed)) == origin {
			return true
		}
	}
	return false
}
