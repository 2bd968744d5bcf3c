// Package session owns authenticated user sessions. Sessions live in
// process memory only; expiry is enforced lazily on every lookup, so no
// background sweep runs.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aapchat/aapchat/pkg/logger"
)

// ErrSessionExpired is returned when a session token is unknown or past its
// TTL. The channel treats it as a forced re-authentication.
var ErrSessionExpired = errors.New("session expired or invalid")

// DefaultTTL matches the controller's own token lifetime.
const DefaultTTL = 24 * time.Hour

// CredentialContext holds one session's controller credentials. It is
// injected into tool arguments at execution time and must never appear in
// the message log or any human-facing output.
type CredentialContext struct {
	Token      string
	AuthScheme string // bearer | basic
	BaseURL    string
	Username   string
}

type Session struct {
	Token       string
	Username    string
	Credentials CredentialContext
	CreatedAt   time.Time
}

type Store struct {
	sessions map[string]*Session
	ttl      time.Duration
	mu       sync.RWMutex
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create registers a new session and returns its token.
func (s *Store) Create(username string, creds CredentialContext) *Session {
	sess := &Session{
		Token:       uuid.NewString(),
		Username:    username,
		Credentials: creds,
		CreatedAt:   s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	logger.InfoCF("session", "session created", map[string]any{
		"username": username,
	})
	return sess
}

// Get returns the session for a token, expiring it on the spot when the TTL
// has elapsed.
func (s *Store) Get(token string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionExpired
	}

	if s.now().Sub(sess.CreatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		logger.InfoCF("session", "session expired", map[string]any{
			"username": sess.Username,
		})
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Delete removes a session, for explicit logout.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Len reports the number of live entries, counting not-yet-collected
// expired sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
