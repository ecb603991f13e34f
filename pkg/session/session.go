// Package session holds the bearer token and cached user between runs.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NicolasHaas/pixgallery/pkg/model"
)

// Storage keys. They match the names the web client used so exported
// sessions stay readable.
const (
	TokenKey = "app_token"
	UserKey  = "app_current_user"
)

// Session is the in-memory view of the persisted session. It is safe for
// concurrent use.
type Session struct {
	mu    sync.RWMutex
	kv    KV
	token string
	user  *model.User
}

// New creates a Session over kv. Call Init to load persisted state.
func New(kv KV) *Session {
	return &Session{kv: kv}
}

// Init loads the token and user from the store. A corrupt user entry is
// dropped rather than failing startup.
func (s *Session) Init() error {
	token, _, err := s.kv.Get(TokenKey)
	if err != nil {
		return fmt.Errorf("session: init: %w", err)
	}
	raw, ok, err := s.kv.Get(UserKey)
	if err != nil {
		return fmt.Errorf("session: init: %w", err)
	}

	var user *model.User
	if ok && raw != "" {
		var u model.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			slog.Warn("discarding unreadable cached user", "err", err)
		} else {
			user = &u
		}
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	return nil
}

// Token returns the bearer token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns a copy of the cached user, or nil.
func (s *Session) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Active reports whether both a token and a cached user are present.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user != nil
}

// Begin stores a freshly issued session. An empty token keeps the previous one.
func (s *Session) Begin(token string, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != "" {
		if err := s.kv.Set(TokenKey, token); err != nil {
			return fmt.Errorf("session: store token: %w", err)
		}
		s.token = token
	}
	return s.storeUserLocked(user)
}

// Refresh replaces the cached user and keeps the token.
func (s *Session) Refresh(user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeUserLocked(user)
}

// Clear forgets the token and the cached user.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = nil
	if err := s.kv.Delete(TokenKey, UserKey); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

func (s *Session) storeUserLocked(user *model.User) error {
	if user == nil {
		s.user = nil
		if err := s.kv.Delete(UserKey); err != nil {
			return fmt.Errorf("session: clear user: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session: encode user: %w", err)
	}
	if err := s.kv.Set(UserKey, string(data)); err != nil {
		return fmt.Errorf("session: store user: %w", err)
	}
	u := *user
	s.user = &u
	return nil
}
