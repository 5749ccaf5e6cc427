package onboard

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// ClaimsDecorator fills claims an external issuer left empty, such as the
// role of an Auth0 or Kratos access token. It runs after validation and
// before role checks. Registered claims and uid must stay untouched.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, claims *JWTClaims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, claims *JWTClaims) error

// Decorate satisfies the ClaimsDecorator interface.
func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, claims *JWTClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, claims)
}

type noopClaimsDecorator struct{}

func (noopClaimsDecorator) Decorate(context.Context, *JWTClaims) error {
	return nil
}

func normalizeClaimsDecorator(d ClaimsDecorator) ClaimsDecorator {
	if d == nil {
		return noopClaimsDecorator{}
	}
	return d
}

// ProfileClaimsDecorator sets the role of role-less tokens from the
// subject's profile. Subjects without a profile become guests.
type ProfileClaimsDecorator struct {
	Profiles Profiles
}

// Decorate satisfies the ClaimsDecorator interface.
func (d ProfileClaimsDecorator) Decorate(ctx context.Context, claims *JWTClaims) error {
	if claims == nil || claims.UserRole != "" {
		return nil
	}

	profile, err := d.Profiles.GetByID(ctx, claims.UserID())
	if err != nil {
		if goerrors.IsNotFound(err) {
			claims.UserRole = string(RoleGuest)
			return nil
		}
		return err
	}

	claims.UserRole = string(RoleMember)
	if profile.Role.IsValid() {
		claims.UserRole = string(profile.Role)
	}
	return nil
}

// decorateClaims runs decorator and rejects changes to immutable claims.
func decorateClaims(ctx context.Context, decorator ClaimsDecorator, claims *JWTClaims) error {
	snapshot := captureImmutableClaims(claims)
	if err := normalizeClaimsDecorator(decorator).Decorate(ctx, claims); err != nil {
		return err
	}
	return snapshot.validate(claims)
}
