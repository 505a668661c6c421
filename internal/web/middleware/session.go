package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// SessionCookieName is the cookie carrying the session token.
	SessionCookieName = "facegate_session"
	sessionDuration   = 24 * time.Hour
	sessionAudience   = "facegate"
	cleanupInterval   = time.Hour
)

// ErrSessionRevoked is returned by Parse for tokens that were logged out.
var ErrSessionRevoked = errors.New("session revoked")

// Session is an authenticated account session carried in a signed JWT.
type Session struct {
	ID         string    `json:"id"`
	Identifier string    `json:"email"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionManager issues and validates HS256 session tokens. Logged-out token
// ids are remembered until they would have expired anyway.
type SessionManager struct {
	secret []byte
	now    func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a new session manager and starts its cleanup goroutine.
func NewSessionManager(secret string) *SessionManager {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = "facegate-dev-secret-change-in-production"
	}
	sm := &SessionManager{
		secret:  []byte(secret),
		now:     time.Now,
		revoked: make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	go sm.cleanupLoop()
	return sm
}

// Issue creates a signed session token for identifier.
func (sm *SessionManager) Issue(identifier string) (*Session, string, error) {
	now := sm.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   identifier,
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionDuration)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sm.secret)
	if err != nil {
		return nil, "", fmt.Errorf("sign session token: %w", err)
	}
	return sessionFromClaims(&claims), signed, nil
}

// Parse validates a token and returns its session.
func (sm *SessionManager) Parse(token string) (*Session, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return sm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(sessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(sm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("session token missing subject or id")
	}

	sm.mu.RLock()
	_, revoked := sm.revoked[claims.ID]
	sm.mu.RUnlock()
	if revoked {
		return nil, ErrSessionRevoked
	}
	return sessionFromClaims(claims), nil
}

// Revoke invalidates the session until its natural expiry.
func (sm *SessionManager) Revoke(s *Session) {
	if s == nil {
		return
	}
	sm.mu.Lock()
	sm.revoked[s.ID] = s.ExpiresAt
	sm.mu.Unlock()
}

// SetSessionCookie sets the session cookie on the response.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, token string, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		SameSite: http.SameSiteLaxMode,
		Expires:  s.ExpiresAt,
	})
}

// ClearSessionCookie removes the session cookie.
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from the cookie or a bearer token.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if s, err := sm.Parse(cookie.Value); err == nil {
			return s
		}
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		if s, err := sm.Parse(strings.TrimSpace(token)); err == nil {
			return s
		}
	}
	return nil
}

// Stop ends the cleanup goroutine.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.cleanup()
		}
	}
}

// cleanup forgets revocations of tokens that have expired.
func (sm *SessionManager) cleanup() int {
	now := sm.now()
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, exp := range sm.revoked {
		if now.After(exp) {
			delete(sm.revoked, id)
			removed++
		}
	}
	return removed
}

func sessionFromClaims(c *jwt.RegisteredClaims) *Session {
	s := &Session{ID: c.ID, Identifier: c.Subject}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}
