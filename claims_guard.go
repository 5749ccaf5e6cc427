package onboard

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// immutableClaims is the part of a token a ClaimsDecorator may not change.
type immutableClaims struct {
	subject   string
	issuer    string
	uid       string
	sessionID string
	audience  []string
	issuedAt  *time.Time
	expiresAt *time.Time
}

func captureImmutableClaims(claims *JWTClaims) immutableClaims {
	if claims == nil {
		return immutableClaims{}
	}
	return immutableClaims{
		subject:   claims.RegisteredClaims.Subject,
		issuer:    claims.RegisteredClaims.Issuer,
		uid:       claims.UID,
		sessionID: claims.SID,
		audience:  slices.Clone([]string(claims.RegisteredClaims.Audience)),
		issuedAt:  numericTime(claims.RegisteredClaims.IssuedAt),
		expiresAt: numericTime(claims.RegisteredClaims.ExpiresAt),
	}
}

func (snap immutableClaims) validate(claims *JWTClaims) error {
	if claims == nil {
		return nil
	}

	switch {
	case claims.RegisteredClaims.Subject != snap.subject:
		return immutableClaimViolation("sub")
	case claims.RegisteredClaims.Issuer != snap.issuer:
		return immutableClaimViolation("iss")
	case claims.UID != snap.uid:
		return immutableClaimViolation("uid")
	case claims.SID != snap.sessionID:
		return immutableClaimViolation("sid")
	case !slices.Equal([]string(claims.RegisteredClaims.Audience), snap.audience):
		return immutableClaimViolation("aud")
	case !sameTime(numericTime(claims.RegisteredClaims.IssuedAt), snap.issuedAt):
		return immutableClaimViolation("iat")
	case !sameTime(numericTime(claims.RegisteredClaims.ExpiresAt), snap.expiresAt):
		return immutableClaimViolation("exp")
	}
	return nil
}

func numericTime(date *jwt.NumericDate) *time.Time {
	if date == nil {
		return nil
	}
	t := date.Time
	return &t
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func immutableClaimViolation(field string) error {
	clone := ErrImmutableClaimMutation.Clone()
	clone.Message = fmt.Sprintf("immutable claim mutated: %s", field)
	clone.Source = ErrImmutableClaimMutation
	return clone.WithMetadata(map[string]any{"claim": field})
}
