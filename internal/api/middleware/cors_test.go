package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func corsHandler(policy CORSPolicy) http.Handler {
	return CORS(policy, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORS_AllowAll(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/homepage", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	corsHandler(CORSPolicy{AllowAll: true}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "ETag")
}

func TestCORS_AllowedOrigin(t *testing.T) {
	policy := CORSPolicy{AllowedOrigins: []string{"https://eventsite.id", "https://www.eventsite.id"}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/homepage", nil)
	req.Header.Set("Origin", "https://WWW.eventsite.id")
	rec := httptest.NewRecorder()

	corsHandler(policy).ServeHTTP(rec, req)

	assert.Equal(t, "https://WWW.eventsite.id", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORS_RejectedOrigin(t *testing.T) {
	policy := CORSPolicy{AllowedOrigins: []string{"https://eventsite.id"}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/homepage", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	corsHandler(policy).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "request still reaches the handler")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_NoOriginPassesThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/homepage", nil)
	rec := httptest.NewRecorder()

	corsHandler(CORSPolicy{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Vary"))
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/otp/request", nil)
	req.Header.Set("Origin", "https://eventsite.id")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	corsHandler(CORSPolicy{AllowedOrigins: []string{"https://eventsite.id"}}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{" https://eventsite.id ", "http://localhost:3000"}

	assert.True(t, isOriginAllowed("https://eventsite.id", allowed))
	assert.True(t, isOriginAllowed("HTTP://LOCALHOST:3000", allowed))
	assert.False(t, isOriginAllowed("https://eventsite.id.evil.example", allowed))
	assert.False(t, isOriginAllowed("https://eventsite.id", nil))
}
