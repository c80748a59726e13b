// Package session keeps short-lived browser sessions in memory. A session
// carries the upstream bearer token after an OTP login and scopes the
// homepage cache.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("session not found")

// Session is a copy of the stored session state.
type Session struct {
	ID             string
	CreatedAt      time.Time
	LastSeen       time.Time
	Token          string
	TokenExpiresAt time.Time
	User           json.RawMessage
}

// Authenticated reports whether the session holds an unexpired token.
func (s Session) Authenticated(now time.Time) bool {
	return s.Token != "" && (s.TokenExpiresAt.IsZero() || now.Before(s.TokenExpiresAt))
}

// Manager owns every live session. Sessions idle for longer than the
// configured TTL are ended lazily on access and by Sweep.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	hooks    []func(id string)

	cookieName    string
	idleTTL       time.Duration
	sweepInterval time.Duration
	secure        bool
	now           func() time.Time
	logger        zerolog.Logger
}

type Option func(*Manager)

// WithSecureCookies marks the session cookie Secure regardless of the
// request scheme. Use behind a TLS-terminating proxy.
func WithSecureCookies(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg config.SessionConfig, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions:      make(map[string]*Session),
		cookieName:    cfg.CookieName,
		idleTTL:       cfg.IdleTTL,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		logger:        logger.With().Str("component", "session").Logger(),
	}
	if m.cookieName == "" {
		m.cookieName = "eventsite_session"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEnd registers fn to run after a session ends, whether by logout, idle
// expiry or sweep. Hooks run outside the manager lock.
func (m *Manager) OnEnd(fn func(id string)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Create starts a new anonymous session.
func (m *Manager) Create() Session {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		LastSeen:  now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	return *s
}

// Get returns the session and marks it as seen. An idle session is ended and
// reported as missing.
func (m *Manager) Get(id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	now := m.now()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Session{}, false
	}
	if m.idle(s, now) {
		m.mu.Unlock()
		m.End(id)
		return Session{}, false
	}
	s.LastSeen = now
	if s.Token != "" && !s.TokenExpiresAt.IsZero() && !now.Before(s.TokenExpiresAt) {
		s.Token, s.TokenExpiresAt, s.User = "", time.Time{}, nil
	}
	out := *s
	m.mu.Unlock()
	return out, true
}

// Login stores the upstream token and user profile on a session.
func (m *Manager) Login(id, token string, expiresAt time.Time, user json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Token = token
	s.TokenExpiresAt = expiresAt
	s.User = user
	s.LastSeen = m.now()
	return nil
}

// SetUser replaces the cached user profile, e.g. after a profile update.
func (m *Manager) SetUser(id string, user json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.User = user
	return nil
}

// End removes a session and runs the end hooks. Ending an unknown session is
// a no-op.
func (m *Manager) End(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	hooks := append([]func(string){}, m.hooks...)
	m.mu.Unlock()

	if !ok {
		return
	}
	metrics.SessionsActive.Set(float64(count))
	for _, hook := range hooks {
		hook(id)
	}
}

// Sweep ends every idle session and returns how many were ended.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if m.idle(s, now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.End(id)
	}
	if len(expired) > 0 {
		m.logger.Debug().Int("count", len(expired)).Msg("expired idle sessions")
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.sweepInterval <= 0 || m.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) idle(s *Session, now time.Time) bool {
	return m.idleTTL > 0 && now.Sub(s.LastSeen) >= m.idleTTL
}
