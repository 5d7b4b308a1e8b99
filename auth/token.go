// Package auth holds the client's view of its bearer-token session. Session
// issuance and revocation are backend concerns; the client only needs to
// carry the token and know when it is about to expire.
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSession holds the bearer token for API calls.
type TokenSession struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenSession creates an empty session.
func NewTokenSession() *TokenSession {
	return &TokenSession{}
}

// SetToken installs a token, reading its expiry from the JWT claims. The
// signature is not verified here: the client trusts the server that issued
// the token and only needs the expiry for refresh scheduling.
func (s *TokenSession) SetToken(token string) error {
	expiresAt, err := tokenExpiry(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = expiresAt
	return nil
}

// Token returns the current bearer token, or empty if none is set.
func (s *TokenSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Valid reports whether a token is set and not yet expired.
func (s *TokenSession) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && time.Now().Before(s.expiresAt)
}

// NeedsRefresh reports whether the token expires within the given window.
func (s *TokenSession) NeedsRefresh(within time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return true
	}
	return time.Now().Add(within).After(s.expiresAt)
}

// Clear drops the token. Called on logout.
func (s *TokenSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

func tokenExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiration claim")
	}
	return exp.Time, nil
}
