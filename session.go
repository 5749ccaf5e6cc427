package onboard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the server side view of a validated access token.
type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Email          string         `json:"email,omitempty"`
	Role           string         `json:"role,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetSessionID() string {
	return s.SessionID
}

func (s *SessionObject) GetRole() string {
	return s.Role
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// IsAtLeast checks the session role against minRole.
func (s *SessionObject) IsAtLeast(minRole UserRole) bool {
	role, ok := ParseRole(s.Role)
	if !ok {
		role = RoleGuest
	}
	return role.IsAtLeast(minRole)
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf("user=%s sid=%s role=%s iss=%s iat=%s", s.UserID, s.SessionID, s.Role, s.Issuer, issuedAt)
}

// SessionFromClaims creates a SessionObject from validated claims.
func SessionFromClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToDecodeSession
	}

	session := &SessionObject{
		UserID:    claims.UserID(),
		SessionID: claims.SessionID(),
		Email:     claims.Email(),
		Role:      claims.Role(),
	}

	if jwtClaims, ok := claims.(*JWTClaims); ok {
		session.Issuer = jwtClaims.RegisteredClaims.Issuer
		session.Audience = append(session.Audience, jwtClaims.RegisteredClaims.Audience...)
		if len(jwtClaims.Metadata) > 0 {
			session.Data = map[string]any{"metadata": jwtClaims.Metadata}
		}
	}

	if issuedAt := claims.IssuedAt(); !issuedAt.IsZero() {
		session.IssuedAt = &issuedAt
	}
	if expiresAt := claims.Expires(); !expiresAt.IsZero() {
		session.ExpirationDate = &expiresAt
	}

	return session, nil
}
