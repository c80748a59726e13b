package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// DefaultUserAgent identifies this service to the event API
	DefaultUserAgent = "eventsite/1.0"
	// DefaultTimeout bounds every single HTTP attempt
	DefaultTimeout = 8 * time.Second
	// DefaultRateLimit caps outbound requests per second
	DefaultRateLimit = rate.Limit(50)
	// DefaultMaxRetries for transient errors on idempotent requests
	DefaultMaxRetries = 2
	// DefaultRetryBaseDelay is the initial backoff delay
	DefaultRetryBaseDelay = 250 * time.Millisecond
	// maxBodyBytes guards against runaway upstream responses
	maxBodyBytes = 8 << 20
)

const tracerName = "github.com/Togather-Foundation/eventsite/internal/upstream"

// ErrNoBaseURL is returned when a request is made without a configured API root.
var ErrNoBaseURL = errors.New("upstream base URL is required")

// Client is a small JSON client for the remote event API. It owns the shared
// base URL, bearer-token injection, forwarded credentials, outbound rate
// limiting and retries for idempotent requests.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
	logger         zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-attempt timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit sets a custom rate limit (requests per second). Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries sets the retry budget and the first backoff delay.
func WithRetries(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.retryBaseDelay = baseDelay
		}
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the API rooted at baseURL
// (e.g. "https://api.example.com/api/v1").
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL:        strings.TrimRight(baseURL, "/"),
		userAgent:      DefaultUserAgent,
		limiter:        rate.NewLimiter(DefaultRateLimit, int(DefaultRateLimit)),
		maxRetries:     DefaultMaxRetries,
		retryBaseDelay: DefaultRetryBaseDelay,
		logger:         zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get fetches path with the given query and decodes the JSON response into out.
// out may be nil to discard the body, or a *json.RawMessage to keep it verbatim.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body as JSON. POST is never retried.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}

	requestURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	endpoint := endpointLabel(path)
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", requestURL),
		),
	)
	defer span.End()

	start := time.Now()
	status, err := c.doWithRetry(ctx, method, requestURL, endpoint, payload, out)
	metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// doWithRetry executes the request with exponential backoff. Only idempotent
// methods are retried, on network errors, 429 and 5xx responses.
func (c *Client) doWithRetry(ctx context.Context, method, requestURL, endpoint string, payload []byte, out any) (int, error) {
	retries := c.maxRetries
	if method == http.MethodPost {
		retries = 0
	}

	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base, 2*base, 4*base, ...
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt-1))
			metrics.UpstreamRetriesTotal.WithLabelValues(endpoint).Inc()
			c.logger.Debug().
				Str("method", method).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying upstream request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastStatus, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return lastStatus, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := c.newRequest(ctx, method, requestURL, payload)
		if err != nil {
			return 0, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			lastStatus = 0
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		lastStatus = resp.StatusCode

		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = newStatusError(resp.StatusCode, respBody)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, newStatusError(resp.StatusCode, respBody)
		}

		if err := decodeBody(respBody, out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}

	return lastStatus, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) newRequest(ctx context.Context, method, requestURL string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range forwardedFromContext(ctx) {
		req.Header.Set(key, value)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

func decodeBody(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], body...)
		if !json.Valid(body) {
			return fmt.Errorf("parse json: invalid payload")
		}
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

// endpointLabel reduces a request path to its first segment so metric and span
// names stay bounded ("/events/featured-hero" and "/events" both become
// "/events", "/ad-banners" stays "/ad-banners").
func endpointLabel(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return "/" + trimmed
}
