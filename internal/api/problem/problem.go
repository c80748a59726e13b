package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/upstream"
	"github.com/rs/zerolog"
)

const contentType = "application/problem+json"

const typeBase = "https://eventsite.dev/problems/"

const (
	TypeValidation   = typeBase + "validation-error"
	TypeServerError  = typeBase + "server-error"
	TypeUpstream     = typeBase + "upstream-error"
	TypeRateLimited  = typeBase + "rate-limited"
	TypeCooldown     = typeBase + "otp-cooldown"
	TypeUnauthorized = typeBase + "unauthorized"
	TypeCSRF         = typeBase + "csrf-failure"
	TypeNotFound     = typeBase + "not-found"
)

type ProblemDetails struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Errors   map[string]any `json:"errors,omitempty"`
}

type Option func(*ProblemDetails)

func WithDetail(detail string) Option {
	return func(p *ProblemDetails) {
		p.Detail = detail
	}
}

func WithInstance(instance string) Option {
	return func(p *ProblemDetails) {
		p.Instance = instance
	}
}

func WithErrors(errs map[string]any) Option {
	return func(p *ProblemDetails) {
		p.Errors = errs
	}
}

// Write renders an RFC 7807 response. Error text is only exposed as detail
// outside production-like environments.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title string, err error, env string, opts ...Option) {
	problem := ProblemDetails{
		Type:   typ,
		Title:  title,
		Status: status,
	}

	for _, opt := range opts {
		opt(&problem)
	}

	if problem.Detail == "" && err != nil {
		if env == "development" || env == "test" {
			problem.Detail = err.Error()
		} else {
			problem.Detail = http.StatusText(status)
		}
	}

	if problem.Instance == "" && r != nil {
		problem.Instance = r.URL.Path
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		event := logger.Warn()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Err(err).
			Int("status", status).
			Str("type", typ).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(title)
	}

	WriteProblem(w, problem)
}

// Upstream maps an upstream client error onto a problem response. Client
// errors keep the upstream status and message so form errors reach the user;
// everything else becomes 502.
func Upstream(w http.ResponseWriter, r *http.Request, err error, env string) {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
		opts := []Option{WithDetail(upstream.MessageOf(err, http.StatusText(statusErr.StatusCode)))}
		if len(statusErr.Errors) > 0 {
			fields := make(map[string]any, len(statusErr.Errors))
			for field, messages := range statusErr.Errors {
				fields[field] = messages
			}
			opts = append(opts, WithErrors(fields))
		}
		Write(w, r, statusErr.StatusCode, TypeUpstream, "Request rejected", err, env, opts...)
		return
	}
	Write(w, r, http.StatusBadGateway, TypeUpstream, "Upstream unavailable", err, env)
}

// RetryAfter sets the Retry-After header in whole seconds, rounding up.
func RetryAfter(w http.ResponseWriter, d time.Duration) {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}

func WriteProblem(w http.ResponseWriter, problem ProblemDetails) {
	payload, err := json.Marshal(problem)
	if err != nil {
		fallback := fmt.Sprintf("{\"type\":\"about:blank\",\"title\":\"%s\",\"status\":500}", http.StatusText(http.StatusInternalServerError))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallback))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(problem.Status)
	_, _ = w.Write(payload)
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoSession    = errors.New("no session")
)
