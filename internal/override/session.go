package override

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSessionTTL is how long a pending decision stays open before
// the registry expires it as declined.
const DefaultSessionTTL = 10 * time.Minute

// Committer applies an accepted decision's effects. Accepted grants go
// through here exactly once.
type Committer interface {
	CommitGrant(ctx context.Context, decision Decision) error
	RecordResolution(ctx context.Context, decision Decision, accepted bool) error
}

// Session holds one pending override decision until the user accepts
// or declines it. A session resolves at most once.
type Session struct {
	ID        string
	Decision  Decision
	CreatedAt time.Time
	ExpiresAt time.Time

	mu       sync.Mutex
	resolved bool
}

// NewSession wraps a decision for later resolution. Denied decisions
// need no session; callers should only open sessions for Approved and
// Negotiating outcomes.
func NewSession(decision Decision, now time.Time, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Session{
		ID:        decision.ID,
		Decision:  decision,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Resolve settles the session. On accept the committer applies the
// grant; either way the resolution is recorded. A second call returns
// ErrAlreadyResolved without touching storage.
func (s *Session) Resolve(ctx context.Context, committer Committer, accept bool) error {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return ErrAlreadyResolved
	}
	s.resolved = true
	s.mu.Unlock()

	if accept {
		if err := committer.CommitGrant(ctx, s.Decision); err != nil {
			// Leave the session resolved. The decision's idempotency
			// key lets the caller retry through a fresh evaluation.
			return err
		}
	}
	return committer.RecordResolution(ctx, s.Decision, accept)
}

// Resolved reports whether the session has been settled.
func (s *Session) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// Registry tracks open sessions and expires the ones nobody answers.
type Registry struct {
	clock     Clock
	committer Committer
	ttl       time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(clock Clock, committer Committer, ttl time.Duration, logger zerolog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		clock:     clock,
		committer: committer,
		ttl:       ttl,
		logger:    logger.With().Str("component", "override-registry").Logger(),
		sessions:  make(map[string]*Session),
	}
}

// Add opens a session for a pending decision and returns it.
func (r *Registry) Add(decision Decision) *Session {
	s := NewSession(decision, r.clock.Now(), r.ttl)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the open session for a decision ID, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session from the registry after resolution.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepExpired declines every session past its deadline and removes it.
// Returns the number of sessions expired.
func (r *Registry) SweepExpired(ctx context.Context) int {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		if err := s.Resolve(ctx, r.committer, false); err != nil && err != ErrAlreadyResolved {
			r.logger.Warn().Err(err).Str("session_id", s.ID).Msg("failed to expire session")
		} else {
			r.logger.Debug().Str("session_id", s.ID).Msg("expired unanswered session")
		}
	}
	return len(expired)
}

// Run sweeps expired sessions on an interval until the context ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepExpired(ctx)
		}
	}
}
