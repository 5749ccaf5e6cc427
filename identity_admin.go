package onboard

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LocalIdentityAdmin creates and deletes identities in the local users table.
type LocalIdentityAdmin struct {
	repo          RepositoryManager
	hasher        PasswordAuthenticator
	deterministic bool
	logger        Logger
	now           func() time.Time
}

// LocalIdentityAdminOption customizes a LocalIdentityAdmin.
type LocalIdentityAdminOption func(*LocalIdentityAdmin)

// WithDeterministicIDs derives identity ids from the email address so the
// same email always maps to the same id.
func WithDeterministicIDs(enabled bool) LocalIdentityAdminOption {
	return func(a *LocalIdentityAdmin) {
		a.deterministic = enabled
	}
}

// WithIdentityAdminLogger sets the logger.
func WithIdentityAdminLogger(logger Logger) LocalIdentityAdminOption {
	return func(a *LocalIdentityAdmin) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithPasswordHasher overrides the bcrypt hasher.
func WithPasswordHasher(hasher PasswordAuthenticator) LocalIdentityAdminOption {
	return func(a *LocalIdentityAdmin) {
		if hasher != nil {
			a.hasher = hasher
		}
	}
}

// NewLocalIdentityAdmin returns an IdentityAdmin over repo.
func NewLocalIdentityAdmin(repo RepositoryManager, opts ...LocalIdentityAdminOption) *LocalIdentityAdmin {
	a := &LocalIdentityAdmin{
		repo:   repo,
		hasher: BcryptHasher{},
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

var _ IdentityAdmin = (*LocalIdentityAdmin)(nil)
var _ IdentityProvider = (*LocalIdentityAdmin)(nil)

// CreateIdentity stores a pre-confirmed identity. Duplicate emails fail with
// ErrIdentityExists.
func (a *LocalIdentityAdmin) CreateIdentity(ctx context.Context, input CreateIdentityInput) (Identity, error) {
	email := NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, NewValidationError("email and password required")
	}

	hash, err := a.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	id := uuid.New()
	if a.deterministic {
		if id, err = hashid.NewUUID(email); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive identity id")
		}
	}

	role := input.Role
	if role == "" {
		role = RoleMember
	}

	confirmedAt := a.now().UTC()
	user := &User{
		ID:               id,
		Email:            email,
		PasswordHash:     hash,
		Role:             role,
		EmailConfirmedAt: &confirmedAt,
	}

	err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := a.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil && !goerrors.IsNotFound(err) {
			return err
		}
		if existing != nil {
			return ErrIdentityExists
		}
		_, err = a.repo.Users().CreateTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("identity created", "identity_id", user.ID.String())
	return NewIdentityFromUser(user), nil
}

// DeleteIdentity removes the identity and revokes its sessions.
func (a *LocalIdentityAdmin) DeleteIdentity(ctx context.Context, id string) error {
	if err := a.repo.Users().Delete(ctx, id); err != nil {
		return err
	}
	if err := a.repo.Sessions().RevokeAllForUser(ctx, id, a.now()); err != nil {
		a.logger.Warn("failed to revoke sessions for deleted identity", "identity_id", id, "error", err)
	}
	a.logger.Info("identity deleted", "identity_id", id)
	return nil
}

// VerifyIdentity checks email and password against the local store.
func (a *LocalIdentityAdmin) VerifyIdentity(ctx context.Context, email, password string) (Identity, error) {
	user, err := a.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.EmailConfirmedAt == nil {
		return nil, ErrInvalidCredentials
	}

	if err := a.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	return NewIdentityFromUser(user), nil
}

// FindIdentityByID loads an identity by id.
func (a *LocalIdentityAdmin) FindIdentityByID(ctx context.Context, id string) (Identity, error) {
	user, err := a.repo.Users().GetByID(ctx, id)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return NewIdentityFromUser(user), nil
}

// TrackSignIn records the last successful sign in.
func (a *LocalIdentityAdmin) TrackSignIn(ctx context.Context, id string, at time.Time) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	return a.repo.Users().TrackSignIn(ctx, uid, at)
}
