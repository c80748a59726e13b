package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/metrics"
)

const (
	upstreamCheckTimeout = 3 * time.Second
	slowUpstreamLatency  = time.Second
)

// HealthCheck represents the health status of the server
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// UpstreamProbe is the call used to decide whether the event API answers.
type UpstreamProbe interface {
	EventTypes(ctx context.Context) (json.RawMessage, error)
}

// SessionCounter reports live sessions for the health details.
type SessionCounter interface {
	Len() int
}

type HealthChecker struct {
	upstream  UpstreamProbe
	sessions  SessionCounter
	version   string
	gitCommit string
	now       func() time.Time
}

func NewHealthChecker(upstream UpstreamProbe, sessions SessionCounter, version, gitCommit string) *HealthChecker {
	return &HealthChecker{
		upstream:  upstream,
		sessions:  sessions,
		version:   version,
		gitCommit: gitCommit,
		now:       time.Now,
	}
}

// Health reports healthy, degraded (slow upstream) or unhealthy (upstream
// unreachable). Degraded still answers 200 because the homepage keeps
// serving partial snapshots.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		default:
		}

		checks := map[string]CheckResult{
			"upstream": h.checkUpstream(r.Context()),
		}
		if h.sessions != nil {
			checks["sessions"] = CheckResult{
				Status:  "pass",
				Details: map[string]any{"active": h.sessions.Len()},
			}
		}

		overall := "healthy"
		statusCode := http.StatusOK
		for _, check := range checks {
			if check.Status == "fail" {
				overall = "unhealthy"
				statusCode = http.StatusServiceUnavailable
				break
			}
			if check.Status == "warn" {
				overall = "degraded"
			}
		}
		metrics.HealthStatus.Set(healthGauge(overall))

		writeJSON(w, statusCode, HealthCheck{
			Status:    overall,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    checks,
			Timestamp: h.now().UTC().Format(time.RFC3339),
		})
	}
}

func (h *HealthChecker) checkUpstream(ctx context.Context) CheckResult {
	if h.upstream == nil {
		return CheckResult{Status: "fail", Message: "Upstream client not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, upstreamCheckTimeout)
	defer cancel()

	start := time.Now()
	_, err := h.upstream.EventTypes(ctx)
	latency := time.Since(start)

	if err != nil {
		message := "Event API request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "Event API did not answer in time"
		}
		return CheckResult{
			Status:    "fail",
			Message:   message,
			LatencyMs: latency.Milliseconds(),
			Details:   map[string]any{"error": err.Error()},
		}
	}
	if latency > slowUpstreamLatency {
		return CheckResult{
			Status:    "warn",
			Message:   "Event API is slow",
			LatencyMs: latency.Milliseconds(),
		}
	}
	return CheckResult{
		Status:    "pass",
		Message:   "Event API reachable",
		LatencyMs: latency.Milliseconds(),
	}
}

func healthGauge(status string) float64 {
	switch status {
	case "healthy":
		return 2
	case "degraded":
		return 1
	default:
		return 0
	}
}

// Healthz is the liveness probe; it never touches the upstream.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
}

// Readyz reports ready once the server accepts requests.
func Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
	})
}

type healthResponse struct {
	Status string `json:"status"`
}
