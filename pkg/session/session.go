package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"storybookai/pkg/domain"
	"storybookai/pkg/store"
)

var ErrTokenRequired = errors.New("session token required")

// Session holds the signed-in user and bearer token, mirrored to a KV store.
// It is safe for concurrent use.
type Session struct {
	kv     store.KV
	logger *slog.Logger

	mu    sync.RWMutex
	token string
	user  *domain.User
}

// Open restores the persisted session. Missing or partial state means signed out.
func Open(ctx context.Context, kv store.KV, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{kv: kv, logger: logger}

	token, err := s.loadToken(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" || user == nil {
		return s, nil
	}
	s.token = token
	s.user = user
	return s, nil
}

func (s *Session) loadToken(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, store.KeyToken)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		s.logger.Warn("session_token_corrupt", "err", err)
		return "", nil
	}
	return strings.TrimSpace(token), nil
}

func (s *Session) loadUser(ctx context.Context) (*domain.User, error) {
	raw, err := s.kv.Get(ctx, store.KeyUser)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		s.logger.Warn("session_user_corrupt", "err", err)
		return nil, nil
	}
	return &user, nil
}

// Token implements apiclient.TokenSource.
func (s *Session) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *Session) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

func (s *Session) SignedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user != nil
}

// Tier is free when signed out.
func (s *Session) Tier() domain.Tier {
	user, ok := s.User()
	if !ok {
		return domain.TierFree
	}
	return user.Tier()
}

// Set persists a fresh login.
func (s *Session) Set(ctx context.Context, token string, user domain.User) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenRequired
	}
	rawToken, err := json.Marshal(token)
	if err != nil {
		return err
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, store.KeyToken, rawToken); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := s.kv.Set(ctx, store.KeyUser, rawUser); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	s.token = token
	s.user = &user
	return nil
}

// UpdateUser replaces the stored user record and keeps the token.
func (s *Session) UpdateUser(ctx context.Context, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, store.KeyUser, raw); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	s.user = &user
	return nil
}

// Clear signs out.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Session) clearLocked(ctx context.Context) error {
	s.token = ""
	s.user = nil
	if err := s.kv.Delete(ctx, store.KeyToken, store.KeyUser); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// InvalidateIfCurrent signs out only when token is still the active one, so a
// rejection of an old token cannot wipe a newer login.
func (s *Session) InvalidateIfCurrent(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || token != s.token {
		return false, nil
	}
	s.logger.Info("session_invalidated")
	if err := s.clearLocked(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// ExpiresAt reads the exp claim of a JWT token without verifying it.
func (s *Session) ExpiresAt() (time.Time, bool) {
	token, _ := s.Token(context.Background())
	return tokenExpiry(token)
}

// Expired is true only when the token carries an expiry in the past.
func (s *Session) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && !now.Before(exp)
}

func tokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
