package middleware

import (
	"net/http"
	"net/url"

	"github.com/Togather-Foundation/eventsite/internal/api/problem"
	"github.com/gorilla/csrf"
)

// CSRFProtection guards the cookie-authenticated auth routes with gorilla's
// double-submit token. The browser fetches a token from the csrf endpoint and
// echoes it in X-CSRF-Token on every unsafe request.
//
// When secure is false the requests are treated as plaintext HTTP so local
// development works without TLS. trustedOrigins are the CORS origins allowed
// to submit cross-origin.
func CSRFProtection(authKey []byte, secure bool, trustedOrigins []string) func(http.Handler) http.Handler {
	opts := []csrf.Option{
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(csrfErrorHandler)),
	}
	if hosts := originHosts(trustedOrigins); len(hosts) > 0 {
		opts = append(opts, csrf.TrustedOrigins(hosts))
	}
	protect := csrf.Protect(authKey, opts...)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		if secure {
			return protected
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

func csrfErrorHandler(w http.ResponseWriter, r *http.Request) {
	problem.Write(w, r, http.StatusForbidden, problem.TypeCSRF, "CSRF token validation failed", csrf.FailureReason(r), "")
}

// CSRFToken returns the masked token for the current request. Without the
// protection middleware it is empty.
func CSRFToken(r *http.Request) string {
	return csrf.Token(r)
}

func originHosts(origins []string) []string {
	var hosts []string
	for _, origin := range origins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}
