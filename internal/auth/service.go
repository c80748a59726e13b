// Package auth implements the OTP phone login flow against the upstream API.
// The upstream issues and signs the bearer token; this package only reads its
// expiry.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/metrics"
	"github.com/Togather-Foundation/eventsite/internal/payload"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// API is the subset of the upstream client the OTP flow needs.
type API interface {
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
}

var ErrNoToken = errors.New("upstream did not return a token")

const maxTrackedPhones = 1024

// CooldownError is returned while a phone number may not request another OTP.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp resend available in %ds", int(e.Remaining.Round(time.Second).Seconds()))
}

// ValidationError lists invalid request fields by JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, tag := range e.Fields {
		parts = append(parts, field+" ("+tag+")")
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

type User struct {
	ID          int64   `json:"id"`
	Name        *string `json:"name"`
	PhoneNumber string  `json:"phone_number"`
	Email       *string `json:"email"`
}

// Login is the outcome of a successful OTP verification.
type Login struct {
	Token     string
	TokenType string
	User      User
	RawUser   json.RawMessage
	ExpiresAt time.Time
}

type VerifyRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	Code        string `json:"code" validate:"required,numeric,min=4,max=8"`
	Name        string `json:"name,omitempty" validate:"omitempty,max=100"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

type ProfileRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

type Service struct {
	api         API
	prefix      string
	cooldown    time.Duration
	fallbackTTL time.Duration
	now         func() time.Time
	validator   *validator.Validate
	logger      zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the OTP service. fallbackTTL is used as token lifetime
// when the token carries no readable expiry.
func NewService(api API, cfg config.AuthConfig, fallbackTTL time.Duration, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		api:         api,
		prefix:      cfg.PhonePrefix,
		cooldown:    cfg.OTPCooldown,
		fallbackTTL: fallbackTTL,
		now:         time.Now,
		validator:   newValidator(),
		logger:      logger.With().Str("component", "auth").Logger(),
		lastSent:    make(map[string]time.Time),
	}
	if s.prefix == "" {
		s.prefix = "62"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CheckPhone reports whether an account exists for the phone number.
func (s *Service) CheckPhone(ctx context.Context, phone string) (bool, error) {
	normalized, err := NormalizePhone(phone, s.prefix)
	if err != nil {
		s.count("check_phone", "rejected")
		return false, err
	}

	var resp struct {
		Data struct {
			UserExists bool `json:"user_exists"`
		} `json:"data"`
	}
	if err := s.api.Post(ctx, "/otp/check-phone", map[string]string{"phone_number": normalized}, &resp); err != nil {
		s.count("check_phone", "error")
		return false, fmt.Errorf("check phone: %w", err)
	}
	s.count("check_phone", "success")
	return resp.Data.UserExists, nil
}

// RequestOTP asks the upstream to send a code. Repeated requests for the same
// number within the cooldown fail with *CooldownError. It returns the
// cooldown the caller should display.
func (s *Service) RequestOTP(ctx context.Context, phone string) (time.Duration, error) {
	normalized, err := NormalizePhone(phone, s.prefix)
	if err != nil {
		s.count("request", "rejected")
		return 0, err
	}
	key := RedactPhone(normalized)
	now := s.now()

	s.mu.Lock()
	if len(s.lastSent) > maxTrackedPhones {
		s.pruneLocked(now)
	}
	if last, ok := s.lastSent[key]; ok {
		if remaining := s.cooldown - now.Sub(last); remaining > 0 {
			s.mu.Unlock()
			s.count("request", "cooldown")
			return remaining, &CooldownError{Remaining: remaining}
		}
	}
	s.lastSent[key] = now
	s.mu.Unlock()

	if err := s.api.Post(ctx, "/otp/request", map[string]string{"phone_number": normalized}, nil); err != nil {
		// A failed send does not start the cooldown.
		s.mu.Lock()
		if s.lastSent[key].Equal(now) {
			delete(s.lastSent, key)
		}
		s.mu.Unlock()
		s.count("request", "error")
		return 0, fmt.Errorf("request otp: %w", err)
	}

	s.count("request", "success")
	s.logger.Info().Str("phone", key).Msg("otp requested")
	return s.cooldown, nil
}

// Verify exchanges a code for an upstream token.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*Login, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate(req); err != nil {
		s.count("verify", "rejected")
		return nil, err
	}
	normalized, err := NormalizePhone(req.PhoneNumber, s.prefix)
	if err != nil {
		s.count("verify", "rejected")
		return nil, err
	}
	req.PhoneNumber = normalized

	var raw json.RawMessage
	if err := s.api.Post(ctx, "/otp/verify", req, &raw); err != nil {
		s.count("verify", "error")
		return nil, fmt.Errorf("verify otp: %w", err)
	}

	var data struct {
		Token     string          `json:"token"`
		TokenType string          `json:"token_type"`
		User      json.RawMessage `json:"user"`
	}
	if inner := payload.Unwrap(raw); inner != nil {
		_ = json.Unmarshal(inner, &data)
	}
	if data.Token == "" {
		s.count("verify", "error")
		return nil, ErrNoToken
	}

	login := &Login{
		Token:     data.Token,
		TokenType: data.TokenType,
		RawUser:   data.User,
		ExpiresAt: s.tokenExpiry(data.Token),
	}
	if len(data.User) > 0 {
		_ = json.Unmarshal(data.User, &login.User)
	}

	s.mu.Lock()
	delete(s.lastSent, RedactPhone(normalized))
	s.mu.Unlock()

	s.count("verify", "success")
	s.logger.Info().
		Str("phone", RedactPhone(normalized)).
		Int64("user_id", login.User.ID).
		Time("expires_at", login.ExpiresAt).
		Msg("otp login")
	return login, nil
}

// UpdateProfile saves the name and email of the user whose token is carried
// by ctx and returns the updated user payload.
func (s *Service) UpdateProfile(ctx context.Context, req ProfileRequest) (json.RawMessage, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate(req); err != nil {
		s.count("profile", "rejected")
		return nil, err
	}

	body := map[string]any{"name": req.Name, "email": nil}
	if req.Email != "" {
		body["email"] = req.Email
	}

	var raw json.RawMessage
	if err := s.api.Put(ctx, "/me", body, &raw); err != nil {
		s.count("profile", "error")
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.count("profile", "success")
	return payload.Unwrap(raw), nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// upstream verifies its own tokens. Opaque tokens get the fallback TTL.
func (s *Service) tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if s.fallbackTTL > 0 {
		return s.now().Add(s.fallbackTTL)
	}
	return time.Time{}
}

// pruneLocked drops cooldown entries that have run out. Callers hold s.mu.
func (s *Service) pruneLocked(now time.Time) {
	for key, last := range s.lastSent {
		if now.Sub(last) >= s.cooldown {
			delete(s.lastSent, key)
		}
	}
}

func (s *Service) validate(v any) error {
	err := s.validator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return &ValidationError{Fields: fields}
	}
	return err
}

func (s *Service) count(step, outcome string) {
	metrics.OTPRequestsTotal.WithLabelValues(step, outcome).Inc()
}
