package auth0

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goauth0 "github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/management"
	goerrors "github.com/goliatone/go-errors"
	onboard "github.com/goliatone/go-onboard"
	"github.com/google/uuid"
)

// IdentifierProviderAuth0 prefixes Auth0 user ids.
const IdentifierProviderAuth0 = "auth0"

// ErrPasswordSignInUnsupported is returned by VerifyIdentity. Auth0 users
// sign in through the Auth0 login flow.
var ErrPasswordSignInUnsupported = goerrors.New(
	"password sign in is handled by Auth0", goerrors.CategoryBadInput,
).WithTextCode("PASSWORD_SIGN_IN_UNSUPPORTED").WithCode(goerrors.CodeBadRequest)

// UserManager is the subset of the management user API in use.
// *management.UserManager satisfies it.
type UserManager interface {
	Create(ctx context.Context, u *management.User, opts ...management.RequestOption) error
	Read(ctx context.Context, id string, opts ...management.RequestOption) (*management.User, error)
	Delete(ctx context.Context, id string, opts ...management.RequestOption) error
}

// IdentityAdmin implements onboard.IdentityAdmin and
// onboard.IdentityProvider over the Auth0 management API.
type IdentityAdmin struct {
	config Config
	users  UserManager
	logger onboard.Logger
}

var _ onboard.IdentityAdmin = (*IdentityAdmin)(nil)
var _ onboard.IdentityProvider = (*IdentityAdmin)(nil)

// Option customizes an IdentityAdmin.
type Option func(*IdentityAdmin)

// WithLogger sets the logger.
func WithLogger(logger onboard.Logger) Option {
	return func(a *IdentityAdmin) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithUserManager replaces the management client, e.g. in tests.
func WithUserManager(users UserManager) Option {
	return func(a *IdentityAdmin) {
		if users != nil {
			a.users = users
		}
	}
}

// NewIdentityAdmin builds a management client with client credentials.
func NewIdentityAdmin(ctx context.Context, cfg Config, opts ...Option) (*IdentityAdmin, error) {
	a := &IdentityAdmin{config: cfg, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.users != nil {
		return a, nil
	}

	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		return nil, fmt.Errorf("auth0: domain is required")
	}

	mgmt, err := management.New(
		domain,
		management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("auth0: failed to create management client: %w", err)
	}
	a.users = mgmt.User

	return a, nil
}

// CreateIdentity creates a verified user. The local uuid becomes the Auth0
// user id so the profile row can reference it.
func (a *IdentityAdmin) CreateIdentity(ctx context.Context, input onboard.CreateIdentityInput) (onboard.Identity, error) {
	email := onboard.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, onboard.NewValidationError("email and password required")
	}

	role := input.Role
	if role == "" {
		role = onboard.RoleMember
	}

	id := uuid.New().String()
	user := &management.User{
		ID:            goauth0.String(id),
		Connection:    goauth0.String(a.config.connection()),
		Email:         goauth0.String(email),
		Password:      goauth0.String(input.Password),
		EmailVerified: goauth0.Bool(true),
		VerifyEmail:   goauth0.Bool(false),
		AppMetadata:   &map[string]interface{}{"role": string(role)},
	}
	if name := strings.TrimSpace(input.FullName); name != "" {
		user.Name = goauth0.String(name)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.timeout())
	defer cancel()

	if err := a.users.Create(ctx, user); err != nil {
		if statusOf(err) == http.StatusConflict {
			return nil, onboard.ErrIdentityExists
		}
		a.logger.Error("auth0 create user failed", "email", email, "error", err)
		return nil, err
	}

	a.logger.Info("auth0 user created", "identity_id", id)
	return onboard.StaticIdentity{
		IdentityID:    id,
		IdentityEmail: email,
		IdentityRole:  string(role),
	}, nil
}

// DeleteIdentity removes the Auth0 user. A missing user is not an error.
func (a *IdentityAdmin) DeleteIdentity(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.timeout())
	defer cancel()

	if err := a.users.Delete(ctx, UserID(id)); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil
		}
		return err
	}
	a.logger.Info("auth0 user deleted", "identity_id", id)
	return nil
}

// VerifyIdentity is not supported, Auth0 handles authentication.
func (a *IdentityAdmin) VerifyIdentity(context.Context, string, string) (onboard.Identity, error) {
	return nil, ErrPasswordSignInUnsupported
}

// FindIdentityByID reads the Auth0 user for id.
func (a *IdentityAdmin) FindIdentityByID(ctx context.Context, id string) (onboard.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.timeout())
	defer cancel()

	user, err := a.users.Read(ctx, UserID(id))
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, onboard.ErrIdentityNotFound
		}
		return nil, err
	}

	return onboard.StaticIdentity{
		IdentityID:    onboard.LocalIdentityID(user.GetID()),
		IdentityEmail: user.GetEmail(),
		IdentityRole:  roleFromMetadata(user.AppMetadata),
	}, nil
}

// UserID maps a local identity id to the Auth0 user id.
func UserID(id string) string {
	if strings.Contains(id, "|") {
		return id
	}
	return IdentifierProviderAuth0 + "|" + id
}

func roleFromMetadata(metadata *map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if role, ok := (*metadata)["role"].(string); ok {
		return role
	}
	return ""
}

func statusOf(err error) int {
	var mErr management.Error
	if goerrors.As(err, &mErr) {
		return mErr.Status()
	}
	return 0
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
