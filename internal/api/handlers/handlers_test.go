package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEtagMatches(t *testing.T) {
	etag := `"01HX"`
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"01HX"`, true},
		{`W/"01HX"`, true},
		{`"other", "01HX"`, true},
		{"*", true},
		{`"other"`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, etagMatches(tt.header, etag), "If-None-Match %q", tt.header)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Phone string `json:"phone_number"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone_number":"0812"}`))
	require.NoError(t, decodeJSON(req, &dst))
	assert.Equal(t, "0812", dst.Phone)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.ErrorIs(t, decodeJSON(req, &dst), errEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone_number":"1"} {"x":1}`))
	assert.Error(t, decodeJSON(req, &dst))

	rec := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone_number":"0812345678"}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 4)
	err := decodeJSON(req, &dst)
	require.Error(t, err)
	assert.True(t, isTooLarge(err))
}

type fakeProbe struct{ err error }

func (p fakeProbe) EventTypes(context.Context) (json.RawMessage, error) {
	if p.err != nil {
		return nil, p.err
	}
	return json.RawMessage(`[]`), nil
}

type fakeCounter int

func (c fakeCounter) Len() int { return int(c) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		probe      fakeProbe
		wantStatus int
		wantHealth string
	}{
		{name: "upstream ok", probe: fakeProbe{}, wantStatus: http.StatusOK, wantHealth: "healthy"},
		{name: "upstream down", probe: fakeProbe{err: errors.New("dial tcp: refused")}, wantStatus: http.StatusServiceUnavailable, wantHealth: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker(tt.probe, fakeCounter(3), "1.0.0", "abc")
			rec := httptest.NewRecorder()
			checker.Health().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.wantStatus, rec.Code)
			var body HealthCheck
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantHealth, body.Status)
			assert.Equal(t, "1.0.0", body.Version)
			assert.Contains(t, body.Checks, "upstream")
			assert.Contains(t, body.Checks, "sessions")
		})
	}
}
