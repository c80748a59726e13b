package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is returned for non-2xx upstream responses. Message and Errors
// are taken from the API's error envelope when present:
//
//	{"success": false, "message": "...", "errors": {"field": ["..."]}}
type StatusError struct {
	StatusCode int
	Message    string
	Errors     map[string][]string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

func newStatusError(status int, body []byte) *StatusError {
	statusErr := &StatusError{StatusCode: status}

	var envelope struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		statusErr.Message = envelope.Message
		statusErr.Errors = envelope.Errors
		return statusErr
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		text = http.StatusText(status)
	}
	statusErr.Message = text
	return statusErr
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// MessageOf returns the upstream's user-facing message for err, or fallback
// when err did not come from an upstream error envelope.
func MessageOf(err error, fallback string) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" && statusErr.StatusCode < 500 {
		return statusErr.Message
	}
	return fallback
}
