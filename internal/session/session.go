// Package session holds the local auth state of one storefront session: the
// bearer token issued by the commerce backend and the user it identifies.
//
// The token is verified by the backend on every call; the claims are only
// read here to know who is signed in and when the token runs out.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated is returned by operations that need a signed-in customer.
var ErrNotAuthenticated = errors.New("not authenticated")

// Claims is the subset of the backend's token claims the engine reads.
type Claims struct {
	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// User is the signed-in customer.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// State is the auth state for one session.
//
// Thread-safety: all methods are safe for concurrent use.
type State struct {
	mu    sync.RWMutex
	token string
	user  *User
	now   func() time.Time

	onClear []func()
}

// New creates an anonymous session.
func New() *State {
	return &State{now: time.Now}
}

// SignIn stores token and the user it identifies. Malformed tokens are rejected
// and leave the state unchanged.
func (s *State) SignIn(token string) (*User, error) {
	user, err := parseUser(token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()

	u := *user
	return &u, nil
}

// parseUser reads the claims without verifying the signature.
func parseUser(token string) (*User, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	id := claims.ActorID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, fmt.Errorf("parse session token: no subject")
	}

	user := &User{ID: id, Email: claims.Email}
	if claims.ExpiresAt != nil {
		user.ExpiresAt = claims.ExpiresAt.Time
	}
	return user, nil
}

// Token returns the bearer token, or "" when anonymous or expired.
// It satisfies adapter.TokenSource.
func (s *State) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil || s.expiredLocked() {
		return ""
	}
	return s.token
}

// User returns a copy of the signed-in user.
func (s *State) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil || s.expiredLocked() {
		return User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a live token is held.
func (s *State) Authenticated() bool {
	_, ok := s.User()
	return ok
}

// Clear drops the token and user, then runs the OnClear hooks. Called on
// sign-out and on backend 401.
func (s *State) Clear() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	hooks := append([]func(){}, s.onClear...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnClear registers fn to run after every Clear, outside the state's lock.
func (s *State) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = append(s.onClear, fn)
	s.mu.Unlock()
}

func (s *State) expiredLocked() bool {
	return !s.user.ExpiresAt.IsZero() && !s.now().Before(s.user.ExpiresAt)
}
