package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type healthcheckOptions struct {
	url     string
	timeout time.Duration
	strict  bool
}

// HealthResponse is the subset of the /health body the probe reads.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthResult is the outcome of one probe.
type HealthResult struct {
	IsHealthy bool
	Status    string
	Error     error
	LatencyMs int64
}

func newHealthcheckCommand() *cobra.Command {
	opts := &healthcheckOptions{}
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /health endpoint.

This command is used by container HEALTHCHECK directives. A degraded server
(upstream slow but reachable) counts as healthy unless --strict is set.

Exit codes:
  0 - Server is healthy
  1 - Server is unhealthy, unreachable or returned an invalid response`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := opts.url
			if url == "" {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				url = fmt.Sprintf("http://localhost:%s/health", port)
			}

			result := performHealthCheck(cmd.Context(), url, opts.timeout)
			if result.Error != nil {
				return fmt.Errorf("health check failed: %w", result.Error)
			}
			healthy := result.IsHealthy || (!opts.strict && result.Status == "degraded")
			if !healthy {
				return fmt.Errorf("server status: %s", result.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%dms)\n", result.Status, result.LatencyMs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/health)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "treat a degraded server as unhealthy")
	return cmd
}

// performHealthCheck calls url and reports the server's self-assessed status.
// Only "healthy" sets IsHealthy. Transport and decoding failures set Error.
func performHealthCheck(ctx context.Context, url string, timeout time.Duration) HealthResult {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthResult{Error: fmt.Errorf("create request: %w", err)}
	}

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{Error: err, LatencyMs: latency}
	}
	defer func() { _ = resp.Body.Close() }()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return HealthResult{Error: fmt.Errorf("parse response: %w", err), LatencyMs: latency}
	}
	if body.Status == "" {
		return HealthResult{Error: errors.New("response has no status"), LatencyMs: latency}
	}

	return HealthResult{
		IsHealthy: resp.StatusCode == http.StatusOK && body.Status == "healthy",
		Status:    body.Status,
		LatencyMs: latency,
	}
}
