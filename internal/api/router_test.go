package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/auth"
	"github.com/Togather-Foundation/eventsite/internal/cache"
	"github.com/Togather-Foundation/eventsite/internal/catalog"
	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/homepage"
	"github.com/Togather-Foundation/eventsite/internal/session"
	"github.com/Togather-Foundation/eventsite/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodMux(t *testing.T) {
	handlers := map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("GET response"))
		}),
		http.MethodPost: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("POST response"))
		}),
	}

	mux := methodMux(handlers)

	tests := []struct {
		name         string
		method       string
		expectStatus int
		expectBody   string
		expectAllow  string
	}{
		{name: "GET allowed", method: http.MethodGet, expectStatus: http.StatusOK, expectBody: "GET response"},
		{name: "POST allowed", method: http.MethodPost, expectStatus: http.StatusCreated, expectBody: "POST response"},
		{name: "PUT not allowed", method: http.MethodPut, expectStatus: http.StatusMethodNotAllowed, expectAllow: "GET, POST"},
		{name: "DELETE not allowed", method: http.MethodDelete, expectStatus: http.StatusMethodNotAllowed, expectAllow: "GET, POST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, "/test", nil))

			assert.Equal(t, tt.expectStatus, rec.Code)
			if tt.expectBody != "" {
				assert.Equal(t, tt.expectBody, rec.Body.String())
			}
			if tt.expectAllow != "" {
				assert.Equal(t, tt.expectAllow, rec.Header().Get("Allow"))
			}
		})
	}
}

// fakeEventAPI stands in for the remote event-listing API.
type fakeEventAPI struct {
	mu         sync.Mutex
	hits       map[string]int
	lastAuth   string
	failHealth bool
}

func (f *fakeEventAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeEventAPI) authHeader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeEventAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	if r.URL.Path == "/me" {
		f.lastAuth = r.Header.Get("Authorization")
	}
	failHealth := f.failHealth
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/events":
		_, _ = io.WriteString(w, `{"success":true,"data":[{"id":1,"title":"<b>Bali Run</b>","slug":"bali-run"}]}`)
	case "/event-types":
		if failHealth {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":1,"name":"Road","slug":"road","event_count":3,"is_active":true}]}`)
	case "/provinces":
		_, _ = io.WriteString(w, `{"data":[{"id":1,"name":"Bali","slug":"bali","event_count":2}]}`)
	case "/events/calendar-stats":
		_, _ = io.WriteString(w, `{"data":{"1":2}}`)
	case "/events/featured-hero", "/blog/posts", "/ad-banners":
		_, _ = io.WriteString(w, `{"data":[]}`)
	case "/otp/check-phone":
		_, _ = io.WriteString(w, `{"success":true,"data":{"user_exists":true}}`)
	case "/otp/request":
		_, _ = io.WriteString(w, `{"success":true,"message":"OTP sent"}`)
	case "/otp/verify":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "123456" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"success":false,"message":"Kode OTP salah","errors":{"code":["invalid"]}}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"data":{"token":"opaque-token","token_type":"Bearer","user":{"id":7,"phone_number":"6281234567890"}}}`)
	case "/me":
		if r.Header.Get("Authorization") != "Bearer opaque-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"data":{"id":7,"name":"Ayu","phone_number":"6281234567890"}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	server *httptest.Server
	client *http.Client
	api    *fakeEventAPI
}

func newTestEnv(t *testing.T, rl config.RateLimitConfig) *testEnv {
	t.Helper()
	fake := &fakeEventAPI{hits: make(map[string]int)}
	upstreamSrv := httptest.NewServer(fake)
	t.Cleanup(upstreamSrv.Close)

	logger := zerolog.Nop()
	apiClient := upstream.NewClient(upstreamSrv.URL, upstream.WithRateLimit(0), upstream.WithRetries(0, time.Millisecond))
	cat := catalog.NewClient(apiClient)

	opts := homepage.DefaultOptions()
	opts.Timeout = 5 * time.Second
	agg := homepage.New(cat, cache.New[*homepage.Snapshot](), opts, logger)

	sessions := session.NewManager(config.SessionConfig{CookieName: "eventsite_session", IdleTTL: time.Hour}, logger)
	sessions.OnEnd(agg.InvalidateSession)
	authService := auth.NewService(apiClient, config.AuthConfig{OTPCooldown: time.Minute, PhonePrefix: "62"}, time.Hour, logger)

	cfg := config.Config{Environment: "test", RateLimit: rl}
	router := NewRouter(Dependencies{
		Config:    cfg,
		Logger:    logger,
		Homepage:  agg,
		Auth:      authService,
		Sessions:  sessions,
		Probe:     cat,
		Version:   "test",
		GitCommit: "abc123",
	})
	t.Cleanup(router.Close)

	srv := httptest.NewServer(router.Handler)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{server: srv, client: &http.Client{Jar: jar}, api: fake}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestRouter_Probes(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	resp := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"), "probes do not start sessions")

	resp = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "abc123", body["git_commit"])

	resp = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "eventsite_health_status")
}

func TestRouter_HealthUnhealthyWhenUpstreamFails(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	env.api.mu.Lock()
	env.api.failHealth = true
	env.api.mu.Unlock()

	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestRouter_ServerHomepage(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	resp := env.do(t, http.MethodGet, "/api/v1/homepage", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	body := decodeBody(t, resp)
	events, ok := body["latest_events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "Bali Run", events[0].(map[string]any)["title"])
	assert.Contains(t, body["events_by_type"], "road")
	assert.Empty(t, body["degraded"])

	env.do(t, http.MethodGet, "/api/v1/homepage", "")
	assert.Equal(t, 2*3, env.api.count("/events"), "server phase always aggregates: latest, road and bali per run")
}

func TestRouter_SessionHomepageCaching(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	first := env.do(t, http.MethodGet, "/api/v1/session/homepage", "")
	require.Equal(t, http.StatusOK, first.StatusCode)
	etag := first.Header.Get("ETag")
	require.NotEmpty(t, etag)
	eventsCalls := env.api.count("/events")

	second := env.do(t, http.MethodGet, "/api/v1/session/homepage", "")
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, etag, second.Header.Get("ETag"))
	assert.Equal(t, eventsCalls, env.api.count("/events"), "cached snapshot served without upstream calls")

	notModified := env.do(t, http.MethodGet, "/api/v1/session/homepage", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, notModified.StatusCode)

	refreshed := env.do(t, http.MethodPost, "/api/v1/session/homepage/refresh", "")
	require.Equal(t, http.StatusOK, refreshed.StatusCode)
	assert.NotEqual(t, etag, refreshed.Header.Get("ETag"))
	assert.Greater(t, env.api.count("/events"), eventsCalls)

	forced := env.do(t, http.MethodGet, "/api/v1/session/homepage?refresh=true", "")
	require.Equal(t, http.StatusOK, forced.StatusCode)
	assert.NotEqual(t, refreshed.Header.Get("ETag"), forced.Header.Get("ETag"))

	status := env.do(t, http.MethodGet, "/api/v1/session/homepage/status", "")
	require.Equal(t, http.StatusOK, status.StatusCode)
	assert.Equal(t, false, decodeBody(t, status)["pending"])
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	resp := env.do(t, http.MethodGet, "/api/v1/session/homepage/refresh", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST", resp.Header.Get("Allow"))
}

func TestRouter_OTPLoginFlow(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	resp := env.do(t, http.MethodGet, "/api/v1/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/auth/check-phone", `{"phone_number":"0812-3456-7890"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["user_exists"])

	resp = env.do(t, http.MethodPost, "/api/v1/auth/otp/request", `{"phone_number":"081234567890"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 60, decodeBody(t, resp)["cooldown_seconds"])

	resp = env.do(t, http.MethodPost, "/api/v1/auth/otp/request", `{"phone_number":"081234567890"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp = env.do(t, http.MethodPost, "/api/v1/auth/otp/verify", `{"phone_number":"081234567890","code":"000000"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Kode OTP salah", decodeBody(t, resp)["detail"])

	resp = env.do(t, http.MethodPost, "/api/v1/auth/otp/verify", `{"phone_number":"081234567890","code":"123456"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decodeBody(t, resp)["user"].(map[string]any)
	assert.EqualValues(t, 7, user["id"])

	resp = env.do(t, http.MethodGet, "/api/v1/auth/me", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/v1/auth/me", `{"name":"Ayu"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer opaque-token", env.api.authHeader())
	assert.Equal(t, "Ayu", decodeBody(t, resp)["user"].(map[string]any)["name"])

	resp = env.do(t, http.MethodPost, "/api/v1/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_AuthValidation(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "invalid phone", path: "/api/v1/auth/check-phone", body: `{"phone_number":"12"}`, status: http.StatusUnprocessableEntity},
		{name: "malformed json", path: "/api/v1/auth/otp/request", body: `{"phone_number":`, status: http.StatusBadRequest},
		{name: "missing code", path: "/api/v1/auth/otp/verify", body: `{"phone_number":"081234567890"}`, status: http.StatusUnprocessableEntity},
		{name: "oversized body", path: "/api/v1/auth/check-phone", body: `{"phone_number":"` + strings.Repeat("1", 20<<10) + `"}`, status: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRouter_OTPTierRateLimited(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{OTPPerMinute: 1})

	resp := env.do(t, http.MethodPost, "/api/v1/auth/check-phone", `{"phone_number":"081234567890"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/auth/check-phone", `{"phone_number":"081234567890"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/homepage", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "public routes are unlimited at zero")
}
