package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/eventsite/internal/upstream"
	"github.com/rs/zerolog"
)

type contextKey string

const sessionKey contextKey = "session"

// Middleware loads the session named by the cookie, or starts a new one, and
// attaches it to the request context. Upstream calls made with the request
// context carry the session token and the browser's forwarded headers.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			s  Session
			ok bool
		)
		if cookie, err := r.Cookie(m.cookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
			s, ok = m.Get(cookie.Value)
		}
		if !ok {
			s = m.Create()
			m.setCookie(w, r, s.ID)
		}

		ctx := WithSession(r.Context(), s)
		ctx = upstream.WithForwardedHeaders(ctx, r.Header)
		if s.Authenticated(m.now()) {
			ctx = upstream.WithToken(ctx, s.Token)
		}
		zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("session_id", s.ID)
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClearCookie expires the session cookie, for logout.
func (m *Manager) ClearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) setCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
