package onboard

import (
	"context"
	"sync"
	"time"
)

// SessionSource is the client side of the identity service.
type SessionSource interface {
	GetSession(ctx context.Context) (*SessionTokens, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(listener AuthStateListener) *Subscription
}

// ProfileLoader loads the profile row for an identity id.
type ProfileLoader interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

// SessionContext holds the current session and its profile for one client.
// It is safe for concurrent use.
type SessionContext struct {
	source   SessionSource
	profiles ProfileLoader
	logger   Logger
	timeout  time.Duration

	mu           sync.RWMutex
	gen          uint64
	session      *SessionTokens
	profile      *Profile
	loading      bool
	lastErr      string
	subscription *Subscription
}

// SessionContextOption customizes a SessionContext.
type SessionContextOption func(*SessionContext)

// WithSessionContextLogger sets the logger.
func WithSessionContextLogger(logger Logger) SessionContextOption {
	return func(s *SessionContext) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProfileLoadTimeout bounds profile lookups triggered by notifications.
func WithProfileLoadTimeout(d time.Duration) SessionContextOption {
	return func(s *SessionContext) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSessionContext returns an uninitialized context. Call Init before use.
func NewSessionContext(source SessionSource, profiles ProfileLoader, opts ...SessionContextOption) *SessionContext {
	s := &SessionContext{
		source:   source,
		profiles: profiles,
		logger:   defLogger{},
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Init fetches the current session and its profile, then subscribes to
// session changes. Loading is true only while Init runs.
func (s *SessionContext) Init(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	session, err := s.source.GetSession(ctx)
	if err != nil {
		s.setError(err)
		s.logger.Warn("session context: get session failed", "error", err)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.session = session
	s.mu.Unlock()

	if session != nil {
		s.loadProfile(ctx, gen, session.User.ID)
	}

	sub := s.source.OnAuthStateChange(s.handleAuthChange)

	s.mu.Lock()
	if s.subscription != nil {
		s.subscription.Unsubscribe()
	}
	s.subscription = sub
	s.mu.Unlock()

	return err
}

// Close cancels the session change subscription.
func (s *SessionContext) Close() {
	s.mu.Lock()
	sub := s.subscription
	s.subscription = nil
	s.mu.Unlock()

	sub.Unsubscribe()
}

// Session returns the current session or nil.
func (s *SessionContext) Session() *SessionTokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// User returns the session user or nil.
func (s *SessionContext) User() *SessionUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	user := s.session.User
	return &user
}

// Profile returns the loaded profile or nil.
func (s *SessionContext) Profile() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Loading reports whether Init is still running.
func (s *SessionContext) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the last error message, empty when none.
func (s *SessionContext) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// NeedsApproval reports whether the profile is loaded with approved=false.
func (s *SessionContext) NeedsApproval() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile != nil && !s.profile.Approved
}

// RefreshProfile reloads the profile for the current session. Without a
// session the profile is cleared and nothing is read.
func (s *SessionContext) RefreshProfile(ctx context.Context) {
	s.mu.RLock()
	session, gen := s.session, s.gen
	s.mu.RUnlock()

	if session == nil {
		s.commitProfile(gen, "", nil, nil)
		return
	}
	s.loadProfile(ctx, gen, session.User.ID)
}

// SignOut clears local state and revokes the session at the identity service.
func (s *SessionContext) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	s.session = nil
	s.profile = nil
	s.lastErr = ""
	s.mu.Unlock()

	if err := s.source.SignOut(ctx); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

func (s *SessionContext) handleAuthChange(event AuthChangeEvent, session *SessionTokens) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.session = session
	s.mu.Unlock()

	s.logger.Debug("session context: auth change", "event", event)

	if session == nil {
		s.commitProfile(gen, "", nil, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.loadProfile(ctx, gen, session.User.ID)
}

// loadProfile reads the profile for id and stores it unless the session
// changed while the read was in flight.
func (s *SessionContext) loadProfile(ctx context.Context, gen uint64, id string) {
	s.mu.Lock()
	if s.gen == gen {
		s.lastErr = ""
	}
	s.mu.Unlock()

	if id == "" {
		s.commitProfile(gen, id, nil, nil)
		return
	}

	profile, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		s.logger.Warn("session context: load profile failed", "identity_id", id, "error", err)
	}
	s.commitProfile(gen, id, profile, err)
}

// commitProfile stores a load result for generation gen. Results for an
// older generation, or for a user other than the current one, are dropped.
func (s *SessionContext) commitProfile(gen uint64, id string, profile *Profile, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		s.logger.Debug("session context: dropping stale profile result", "identity_id", id)
		return
	}
	if id != "" && (s.session == nil || s.session.User.ID != id) {
		return
	}

	if err != nil {
		s.lastErr = ErrorMessage(err)
		s.profile = nil
		return
	}
	s.lastErr = ""
	s.profile = profile
}

func (s *SessionContext) setError(err error) {
	s.mu.Lock()
	s.lastErr = ErrorMessage(err)
	s.mu.Unlock()
}
