package app

import (
	"context"
	"sync"

	"storybookai/pkg/cache"
	"storybookai/pkg/domain"
	"storybookai/pkg/generation"
)

// Create is the book creation screen. It runs at most one generation at a time.
type Create struct {
	*deps
	poller *generation.Poller

	mu     sync.Mutex
	active *generation.Handle
}

// Submit validates req against the user's tier, submits it and follows the
// job until it completes, times out or is stopped with Close. A timed out
// job keeps generating on the server and shows up in the library later.
func (s *Create) Submit(ctx context.Context, req domain.GenerateRequest, observe generation.Observer) (generation.Outcome, error) {
	if !s.session.SignedIn() {
		return generation.Outcome{}, ErrLoginRequired
	}
	req = req.WithDefaults()
	if err := req.Validate(s.session.Tier()); err != nil {
		return generation.Outcome{}, err
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return generation.Outcome{}, ErrGenerationInProgress
	}
	sent := s.currentToken(ctx)
	h := s.poller.Start(ctx, req, observe)
	s.active = h
	s.mu.Unlock()

	out := h.Outcome()
	s.mu.Lock()
	if s.active == h {
		s.active = nil
	}
	s.mu.Unlock()

	switch out.Status {
	case generation.Completed, generation.TimedOut:
		s.invalidate(ctx, cache.Library)
	case generation.Failed:
		s.dropSessionOn401(ctx, out.Err, sent)
		return out, out.Err
	}
	return out, nil
}

// Active reports whether a generation is running.
func (s *Create) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Close stops the running generation, if any, and waits for it to wind down.
func (s *Create) Close() {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}
