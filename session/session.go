/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package session describes credentials issued by an external session provider
// and implements the single refresh-and-retry policy for calls failing with expired credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated is returned when there is no valid session and it cannot be refreshed.
var ErrNotAuthenticated = errors.New("not authenticated")

// DefaultTokenType is used when the provider does not specify the token type.
const DefaultTokenType = "Bearer"

// Session contains credentials for calling the remote API.
type Session struct {
	Authenticated   bool
	AccessToken     string
	TokenType       string
	SubscriptionKey string
	ExpiresAt       time.Time // zero means unknown
}

// Valid reports whether the session may be used at the given moment.
func (s Session) Valid(now time.Time) bool {
	if !s.Authenticated || s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// AuthorizationHeader returns a value for the Authorization HTTP header.
func (s Session) AuthorizationHeader() string {
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return tokenType + " " + s.AccessToken
}

// WithExpiryFromToken returns a copy of the session with ExpiresAt taken from the access token
// if the provider has not set it and the token is a JWT with the "exp" claim.
func (s Session) WithExpiryFromToken() Session {
	if !s.ExpiresAt.IsZero() || s.AccessToken == "" {
		return s
	}
	if exp, err := ExpiresAtFromJWT(s.AccessToken); err == nil {
		s.ExpiresAt = exp
	}
	return s
}

// ExpiresAtFromJWT returns the expiration time from the "exp" claim of the JWT.
// The signature is not verified, the token is only inspected.
func ExpiresAtFromJWT(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("get expiration time: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no expiration time")
	}
	return exp.Time, nil
}

// Provider returns the current session.
type Provider interface {
	CurrentSession(ctx context.Context) (Session, error)
}

// Refresher is implemented by providers which are able to obtain a new session.
type Refresher interface {
	RefreshSession(ctx context.Context) (Session, error)
}

// ProviderFunc allows using an ordinary function as Provider.
type ProviderFunc func(ctx context.Context) (Session, error)

// CurrentSession implements Provider.
func (f ProviderFunc) CurrentSession(ctx context.Context) (Session, error) {
	return f(ctx)
}

// StaticProvider keeps a session set from outside (e.g. by the process which acquires credentials).
// If RefreshFunc is set, it's used by RefreshSession.
type StaticProvider struct {
	mu          sync.RWMutex
	session     Session
	RefreshFunc func(ctx context.Context) (Session, error)
}

var _ Provider = (*StaticProvider)(nil)
var _ Refresher = (*StaticProvider)(nil)

// NewStaticProvider creates a new StaticProvider with the given session.
func NewStaticProvider(s Session) *StaticProvider {
	return &StaticProvider{session: s}
}

// SetSession replaces the current session.
func (p *StaticProvider) SetSession(s Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

// CurrentSession implements Provider.
func (p *StaticProvider) CurrentSession(_ context.Context) (Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session, nil
}

// RefreshSession implements Refresher.
func (p *StaticProvider) RefreshSession(ctx context.Context) (Session, error) {
	if p.RefreshFunc == nil {
		return Session{}, ErrNotAuthenticated
	}
	s, err := p.RefreshFunc(ctx)
	if err != nil {
		return Session{}, err
	}
	p.SetSession(s)
	return s, nil
}
