package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"VolumeSentinel/internal/config"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Session is an authenticated portal handle.
type Session struct {
	ID        string
	Mode      config.AuthMode
	CreatedAt time.Time
	// ContractID is the contract a guest link belongs to, once resolved.
	ContractID string

	jar  http.CookieJar
	http *http.Client
}

// HasCookie reports whether the session holds the named cookie for u.
func (s *Session) HasCookie(u *url.URL, name string) bool {
	if s == nil || s.jar == nil {
		return false
	}
	for _, c := range s.jar.Cookies(u) {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Authenticator performs a fresh login.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Session, error)
}

// SessionManager shares one session between monitor loops and makes sure a
// stale session is replaced by a single login even when several loops notice
// the expiry at once.
type SessionManager struct {
	auth   Authenticator
	logger zerolog.Logger

	mu      sync.Mutex
	current *Session
	logins  int
	group   singleflight.Group
}

// NewSessionManager creates a manager around the given authenticator.
func NewSessionManager(auth Authenticator, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		auth:   auth,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Current returns the active session, logging in first if there is none.
func (m *SessionManager) Current(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s != nil {
		return s, nil
	}
	return m.Reauthenticate(ctx, nil)
}

// Reauthenticate replaces stale with a fresh session. If another caller has
// already replaced it, the newer session is returned without a new login.
func (m *SessionManager) Reauthenticate(ctx context.Context, stale *Session) (*Session, error) {
	m.mu.Lock()
	if m.current != nil && m.current != stale {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, shared := m.group.Do("login", func() (interface{}, error) {
		// A concurrent flight may have finished between the check above and here.
		m.mu.Lock()
		if m.current != nil && m.current != stale {
			s := m.current
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		s, err := m.auth.Authenticate(ctx)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.current = s
		m.logins++
		m.mu.Unlock()
		m.logger.Info().Str("session", s.ID).Str("mode", s.Mode.String()).Msg("Portal session established")
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reauthenticate: %w", err)
	}
	if shared {
		m.logger.Debug().Msg("Joined in-flight login")
	}
	return v.(*Session), nil
}

// Invalidate drops the current session if it is still stale.
func (m *SessionManager) Invalidate(stale *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == stale {
		m.current = nil
	}
}

// Logins returns how many successful logins were performed.
func (m *SessionManager) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}
