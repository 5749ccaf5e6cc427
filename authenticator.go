package onboard

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionUser is the user summary returned with a session.
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SessionTokens is the token pair issued on sign in and refresh.
type SessionTokens struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         SessionUser `json:"user"`
}

// Expired reports whether the access token is past expiry at now.
func (t *SessionTokens) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return now.Unix() >= t.ExpiresAt
}

// RoleResolver decides the role carried in issued tokens.
type RoleResolver interface {
	ResolveRole(ctx context.Context, identity Identity) (UserRole, error)
}

// RoleResolverFunc adapts a function into a RoleResolver.
type RoleResolverFunc func(ctx context.Context, identity Identity) (UserRole, error)

// ResolveRole satisfies RoleResolver.
func (f RoleResolverFunc) ResolveRole(ctx context.Context, identity Identity) (UserRole, error) {
	return f(ctx, identity)
}

type identityRoleResolver struct{}

func (identityRoleResolver) ResolveRole(_ context.Context, identity Identity) (UserRole, error) {
	role, ok := ParseRole(identity.Role())
	if !ok {
		return RoleMember, nil
	}
	return role, nil
}

// ProfileRoleResolver reads the role from the identity's profile, falling
// back to the identity role when no profile exists.
type ProfileRoleResolver struct {
	Profiles Profiles
}

// ResolveRole satisfies RoleResolver.
func (r ProfileRoleResolver) ResolveRole(ctx context.Context, identity Identity) (UserRole, error) {
	profile, err := r.Profiles.GetByID(ctx, identity.ID())
	if err != nil {
		if goerrors.IsNotFound(err) {
			return identityRoleResolver{}.ResolveRole(ctx, identity)
		}
		return "", err
	}
	if !profile.Role.IsValid() {
		return RoleMember, nil
	}
	return profile.Role, nil
}

type signInTracker interface {
	TrackSignIn(ctx context.Context, id string, at time.Time) error
}

// Auther issues and validates sessions for password sign in.
type Auther struct {
	provider     IdentityProvider
	sessions     AuthSessions
	tokenService *TokenServiceImpl
	refreshTTL   time.Duration
	roleResolver RoleResolver
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// AutherOption customizes an Auther.
type AutherOption func(*Auther)

// WithAutherLogger sets the logger.
func WithAutherLogger(logger Logger) AutherOption {
	return func(a *Auther) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAutherActivitySink configures an ActivitySink for emitting auth events.
func WithAutherActivitySink(sink ActivitySink) AutherOption {
	return func(a *Auther) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

// WithRoleResolver overrides how token roles are resolved.
func WithRoleResolver(resolver RoleResolver) AutherOption {
	return func(a *Auther) {
		if resolver != nil {
			a.roleResolver = resolver
		}
	}
}

// WithAutherClock injects a custom clock (useful for tests).
func WithAutherClock(now func() time.Time) AutherOption {
	return func(a *Auther) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator returns a new Auther
func NewAuthenticator(provider IdentityProvider, sessions AuthSessions, cfg Config, opts ...AutherOption) *Auther {
	a := &Auther{
		provider:     provider,
		sessions:     sessions,
		refreshTTL:   cfg.GetRefreshTTL(),
		roleResolver: identityRoleResolver{},
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.tokenService = NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenTTL(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		a.logger,
		WithTokenClock(a.now),
	)

	return a
}

// TokenService returns the TokenService used by this Auther
func (a *Auther) TokenService() TokenService {
	return a.tokenService
}

// SignInWithPassword verifies credentials and opens a new refresh session.
func (a *Auther) SignInWithPassword(ctx context.Context, email, password string) (*SessionTokens, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, NewValidationError("email and password required")
	}

	identity, err := a.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		a.logger.Warn("sign in verify identity error", "error", err)
		a.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": NormalizeEmail(email),
			"error": err.Error(),
		})
		return nil, err
	}
	if identity == nil {
		return nil, ErrInvalidCredentials
	}

	tokens, err := a.openSession(ctx, identity)
	if err != nil {
		a.emit(ctx, ActivityEventLoginFailure, actorFromIdentity(identity), identity.ID(), map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	if tracker, ok := a.provider.(signInTracker); ok {
		if err := tracker.TrackSignIn(ctx, identity.ID(), a.now()); err != nil {
			a.logger.Warn("failed to track sign in", "identity_id", identity.ID(), "error", err)
		}
	}

	a.emit(ctx, ActivityEventLoginSuccess, actorFromIdentity(identity), identity.ID(), nil)
	return tokens, nil
}

// RefreshSession exchanges a refresh token for a new token pair. The old
// refresh token stops working.
func (a *Auther) RefreshSession(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, NewValidationError("refresh_token required")
	}

	oldHash := hashRefreshToken(refreshToken)
	session, err := a.sessions.GetByTokenHash(ctx, oldHash)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrSessionRevoked
		}
		return nil, err
	}

	now := a.now()
	if !session.Active(now) {
		return nil, ErrSessionRevoked
	}

	identity, err := a.provider.FindIdentityByID(ctx, session.UserID.String())
	if err != nil {
		return nil, err
	}

	newToken, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(a.refreshTTL)
	if err := a.sessions.Rotate(ctx, session.ID.String(), oldHash, hashRefreshToken(newToken), expiresAt, now); err != nil {
		return nil, err
	}

	return a.issue(ctx, identity, session.ID.String(), newToken)
}

// SignOut revokes the refresh session sid.
func (a *Auther) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrUnableToFindSession
	}
	if err := a.sessions.Revoke(ctx, sessionID, a.now()); err != nil {
		return err
	}
	a.emit(ctx, ActivityEventLogout, ActorFromContext(ctx), sessionID, nil)
	return nil
}

// SessionFromToken validates token and its backing refresh session.
func (a *Auther) SessionFromToken(ctx context.Context, token string) (*SessionObject, error) {
	claims, err := a.tokenService.Validate(token)
	if err != nil {
		return nil, err
	}
	if err := a.CheckClaims(ctx, claims); err != nil {
		return nil, err
	}
	return SessionFromClaims(claims)
}

// CheckClaims rejects claims whose refresh session was revoked. Tokens without
// a session id are accepted as is.
func (a *Auther) CheckClaims(ctx context.Context, claims AuthClaims) error {
	sid := claims.SessionID()
	if sid == "" {
		return nil
	}
	session, err := a.sessions.GetByID(ctx, sid)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrSessionRevoked
		}
		return err
	}
	if session.RevokedAt != nil {
		return ErrSessionRevoked
	}
	return nil
}

func (a *Auther) openSession(ctx context.Context, identity Identity) (*SessionTokens, error) {
	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "identity id is not a uuid")
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	session, err := a.sessions.Create(ctx, &AuthSession{
		UserID:           userID,
		RefreshTokenHash: hashRefreshToken(refreshToken),
		ExpiresAt:        a.now().Add(a.refreshTTL).UTC(),
	})
	if err != nil {
		return nil, err
	}

	return a.issue(ctx, identity, session.ID.String(), refreshToken)
}

func (a *Auther) issue(ctx context.Context, identity Identity, sessionID, refreshToken string) (*SessionTokens, error) {
	role, err := a.roleResolver.ResolveRole(ctx, identity)
	if err != nil {
		return nil, err
	}

	accessToken, claims, err := a.tokenService.Issue(StaticIdentity{
		IdentityID:    identity.ID(),
		IdentityEmail: identity.Email(),
		IdentityRole:  string(role),
	}, sessionID)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(a.tokenService.TTL().Seconds()),
		ExpiresAt:    claims.Expires().Unix(),
		User: SessionUser{
			ID:    identity.ID(),
			Email: identity.Email(),
			Role:  string(role),
		},
	}, nil
}

func (a *Auther) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, subjectID string, metadata map[string]any) {
	recordActivity(ctx, a.activitySink, a.logger, a.now, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		SubjectID: subjectID,
		Metadata:  metadata,
	})
}

func actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: identity.ID(), Type: ActorTypeUser}
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
