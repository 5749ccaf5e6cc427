package onboard

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccessRequestStatus is the lifecycle status of an access request.
type AccessRequestStatus string

const (
	AccessRequestPending   AccessRequestStatus = "pending"
	AccessRequestProcessed AccessRequestStatus = "processed"
	AccessRequestRejected  AccessRequestStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s AccessRequestStatus) IsTerminal() bool {
	return s == AccessRequestProcessed || s == AccessRequestRejected
}

// IsValid reports whether s is a known status.
func (s AccessRequestStatus) IsValid() bool {
	switch s {
	case AccessRequestPending, AccessRequestProcessed, AccessRequestRejected:
		return true
	default:
		return false
	}
}

// User is the local identity record
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email            string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash     string     `bun:"password_hash,notnull" json:"-"`
	Role             UserRole   `bun:"role,notnull" json:"role"`
	EmailConfirmedAt *time.Time `bun:"email_confirmed_at,nullzero" json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time `bun:"last_sign_in_at,nullzero" json:"last_sign_in_at,omitempty"`
	CreatedAt        *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Profile extends an identity with business attributes.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	FullName      string     `bun:"full_name,nullzero" json:"full_name,omitempty"`
	CompanyName   string     `bun:"company_name,nullzero" json:"company_name,omitempty"`
	CompanyID     string     `bun:"company_id,nullzero" json:"company_id,omitempty"`
	Approved      bool       `bun:"approved,notnull" json:"approved"`
	Role          UserRole   `bun:"role,notnull" json:"role"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsAdmin reports whether the profile carries an admin role.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role.IsAtLeast(RoleAdmin)
}

// AccessRequest is an onboarding request submitted by a visitor.
type AccessRequest struct {
	bun.BaseModel `bun:"table:access_requests,alias:acr"`
	ID            uuid.UUID           `bun:"id,pk,type:uuid" json:"id"`
	Email         string              `bun:"email,notnull" json:"email"`
	FullName      string              `bun:"full_name,nullzero" json:"full_name,omitempty"`
	CompanyName   string              `bun:"company_name,nullzero" json:"company_name,omitempty"`
	Message       string              `bun:"message,nullzero" json:"message,omitempty"`
	Status        AccessRequestStatus `bun:"status,notnull" json:"status"`
	DecidedBy     string              `bun:"decided_by,nullzero" json:"decided_by,omitempty"`
	DecidedAt     *time.Time          `bun:"decided_at,nullzero" json:"decided_at,omitempty"`
	CreatedAt     *time.Time          `bun:"created_at,nullzero" json:"created_at,omitempty"`
	UpdatedAt     *time.Time          `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// EnsureStatus defaults an empty status to pending.
func (r *AccessRequest) EnsureStatus() {
	if r != nil && r.Status == "" {
		r.Status = AccessRequestPending
	}
}

// AuthSession is a refresh session backing an issued access token.
type AuthSession struct {
	bun.BaseModel    `bun:"table:auth_sessions,alias:ses"`
	ID               uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID           uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	RefreshTokenHash string     `bun:"refresh_token_hash,notnull,unique" json:"-"`
	ExpiresAt        time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt        *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	RefreshedAt      *time.Time `bun:"refreshed_at,nullzero" json:"refreshed_at,omitempty"`
	CreatedAt        *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Active reports whether the session can still be used at now.
func (s *AuthSession) Active(now time.Time) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// ActivityRecord is a persisted ActivityEvent.
type ActivityRecord struct {
	bun.BaseModel `bun:"table:activity_log,alias:act"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	EventType     string         `bun:"event_type,notnull" json:"event_type"`
	ActorID       string         `bun:"actor_id,nullzero" json:"actor_id,omitempty"`
	ActorType     string         `bun:"actor_type,nullzero" json:"actor_type,omitempty"`
	SubjectID     string         `bun:"subject_id,nullzero" json:"subject_id,omitempty"`
	FromStatus    string         `bun:"from_status,nullzero" json:"from_status,omitempty"`
	ToStatus      string         `bun:"to_status,nullzero" json:"to_status,omitempty"`
	Metadata      map[string]any `bun:"metadata" json:"metadata,omitempty"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
}

// NormalizeEmail lower cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
