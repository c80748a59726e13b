package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/api/middleware"
	"github.com/Togather-Foundation/eventsite/internal/api/problem"
	"github.com/Togather-Foundation/eventsite/internal/auth"
	"github.com/Togather-Foundation/eventsite/internal/session"
)

// SessionInvalidator drops per-session cached data, e.g. the homepage
// snapshot fetched with the previous identity.
type SessionInvalidator interface {
	InvalidateSession(sessionID string)
}

type AuthHandler struct {
	Service  *auth.Service
	Sessions *session.Manager
	Caches   SessionInvalidator
	Env      string
	now      func() time.Time
}

func NewAuthHandler(service *auth.Service, sessions *session.Manager, caches SessionInvalidator, env string) *AuthHandler {
	return &AuthHandler{Service: service, Sessions: sessions, Caches: caches, Env: env, now: time.Now}
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type checkPhoneResponse struct {
	UserExists bool `json:"user_exists"`
}

type otpRequestResponse struct {
	Sent            bool `json:"sent"`
	CooldownSeconds int  `json:"cooldown_seconds"`
}

type loginResponse struct {
	User      json.RawMessage `json:"user"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

type csrfResponse struct {
	Token string `json:"csrf_token"`
}

// CSRF returns the token the auth forms echo in X-CSRF-Token.
func (h *AuthHandler) CSRF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, csrfResponse{Token: middleware.CSRFToken(r)})
}

func (h *AuthHandler) CheckPhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	exists, err := h.Service.CheckPhone(r.Context(), req.PhoneNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkPhoneResponse{UserExists: exists})
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	cooldown, err := h.Service.RequestOTP(r.Context(), req.PhoneNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, otpRequestResponse{Sent: true, CooldownSeconds: int(cooldown.Round(time.Second) / time.Second)})
}

// Verify exchanges the code for a token and signs the session in. Cached
// session data from before the login is dropped.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req auth.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := session.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", problem.ErrNoSession, h.Env)
		return
	}

	login, err := h.Service.Verify(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Sessions.Login(s.ID, login.Token, login.ExpiresAt, login.RawUser); err != nil {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Session expired", err, h.Env)
		return
	}
	if h.Caches != nil {
		h.Caches.InvalidateSession(s.ID)
	}

	resp := loginResponse{User: login.RawUser}
	if !login.ExpiresAt.IsZero() {
		resp.ExpiresAt = &login.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// Me returns the signed-in user cached on the session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	resp := loginResponse{User: s.User}
	if !s.TokenExpiresAt.IsZero() {
		resp.ExpiresAt = &s.TokenExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	var req auth.ProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.Service.UpdateProfile(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(user) > 0 {
		_ = h.Sessions.SetUser(s.ID, user)
	}
	writeJSON(w, http.StatusOK, loginResponse{User: user})
}

// Logout ends the session. Session end hooks clear its caches.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := session.FromContext(r.Context()); ok {
		h.Sessions.End(s.ID)
	}
	h.Sessions.ClearCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) authenticated(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok || !s.Authenticated(h.now()) {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Login required", problem.ErrUnauthorized, h.Env)
		return session.Session{}, false
	}
	return s, true
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(r, dst)
	if err == nil {
		return true
	}
	if isTooLarge(err) {
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeValidation, "Request too large", err, h.Env)
		return false
	}
	problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid JSON body", err, h.Env)
	return false
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cooldown   *auth.CooldownError
		validation *auth.ValidationError
	)
	switch {
	case errors.As(err, &cooldown):
		problem.RetryAfter(w, cooldown.Remaining)
		problem.Write(w, r, http.StatusTooManyRequests, problem.TypeCooldown, "OTP already sent", err, h.Env,
			problem.WithDetail(err.Error()))
	case errors.As(err, &validation):
		fields := make(map[string]any, len(validation.Fields))
		for field, tag := range validation.Fields {
			fields[field] = tag
		}
		problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Invalid request", err, h.Env,
			problem.WithErrors(fields))
	case errors.Is(err, auth.ErrInvalidPhone):
		problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Invalid phone number", err, h.Env,
			problem.WithErrors(map[string]any{"phone_number": "invalid"}))
	case errors.Is(err, auth.ErrNoToken):
		problem.Write(w, r, http.StatusBadGateway, problem.TypeUpstream, "Login failed", err, h.Env)
	default:
		problem.Upstream(w, r, err, h.Env)
	}
}
