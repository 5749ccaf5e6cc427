package onboard

// UserIdentity adapts a User into an Identity.
type UserIdentity struct {
	user *User
}

// NewIdentityFromUser wraps user, returning nil for a nil user.
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return UserIdentity{user: user}
}

func (u UserIdentity) ID() string {
	return u.user.ID.String()
}

func (u UserIdentity) Email() string {
	return u.user.Email
}

func (u UserIdentity) Role() string {
	return string(u.user.Role)
}

// User returns the wrapped record.
func (u UserIdentity) User() *User {
	return u.user
}

// StaticIdentity is an Identity built from plain values, used by remote
// identity admins that only return ids.
type StaticIdentity struct {
	IdentityID    string `json:"id"`
	IdentityEmail string `json:"email"`
	IdentityRole  string `json:"role,omitempty"`
}

func (s StaticIdentity) ID() string    { return s.IdentityID }
func (s StaticIdentity) Email() string { return s.IdentityEmail }
func (s StaticIdentity) Role() string  { return s.IdentityRole }
