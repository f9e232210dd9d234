package app

import (
	"context"
	"fmt"
	"strings"

	"storybookai/pkg/domain"
)

// Auth covers sign-in, sign-up and the profile screen.
type Auth struct {
	*deps
}

func (s *Auth) Login(ctx context.Context, email, password string) (domain.User, error) {
	resp, err := s.api.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return domain.User{}, err
	}
	return s.start(ctx, resp)
}

func (s *Auth) Register(ctx context.Context, name, email, password string) (domain.User, error) {
	resp, err := s.api.Register(ctx, strings.TrimSpace(name), strings.TrimSpace(email), password)
	if err != nil {
		return domain.User{}, err
	}
	return s.start(ctx, resp)
}

// start persists a new session. Cached lists belong to whoever was signed in
// before, so they are dropped.
func (s *Auth) start(ctx context.Context, resp domain.AuthResponse) (domain.User, error) {
	user := resp.User()
	if err := s.session.Set(ctx, resp.Token, user); err != nil {
		return domain.User{}, fmt.Errorf("save session: %w", err)
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn("cache_clear_failed", "err", err)
	}
	s.logger.Info("signed_in", "user_id", user.ID, "is_premium", user.IsPremium)
	return user, nil
}

func (s *Auth) Logout(ctx context.Context) error {
	if err := s.session.Clear(ctx); err != nil {
		return err
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn("cache_clear_failed", "err", err)
	}
	return nil
}

// Refresh reloads the user record from the server.
func (s *Auth) Refresh(ctx context.Context) (domain.User, error) {
	if !s.session.SignedIn() {
		return domain.User{}, ErrLoginRequired
	}
	sent := s.currentToken(ctx)
	user, err := s.api.Me(ctx)
	if err != nil {
		s.dropSessionOn401(ctx, err, sent)
		return domain.User{}, err
	}
	if err := s.session.UpdateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *Auth) UpdateProfile(ctx context.Context, name string) (domain.User, error) {
	if !s.session.SignedIn() {
		return domain.User{}, ErrLoginRequired
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, domain.ErrNameRequired
	}
	sent := s.currentToken(ctx)
	user, err := s.api.UpdateProfile(ctx, domain.ProfileUpdate{Name: name})
	if err != nil {
		s.dropSessionOn401(ctx, err, sent)
		return domain.User{}, err
	}
	if err := s.session.UpdateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Paywall syncs the store subscription state with the server.
type Paywall struct {
	*deps
}

// Sync reports isPro to the server and returns the refreshed user.
func (s *Paywall) Sync(ctx context.Context, isPro bool) (domain.User, error) {
	if !s.session.SignedIn() {
		return domain.User{}, ErrLoginRequired
	}
	sent := s.currentToken(ctx)
	if err := s.api.SyncSubscription(ctx, isPro); err != nil {
		s.dropSessionOn401(ctx, err, sent)
		return domain.User{}, err
	}
	user, err := s.api.Me(ctx)
	if err != nil {
		s.dropSessionOn401(ctx, err, sent)
		return domain.User{}, err
	}
	if err := s.session.UpdateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}
