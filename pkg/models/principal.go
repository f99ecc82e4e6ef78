package models

import "time"

// Role is the coarse identity class of a principal.
type Role string

// Roles known to the access core.
const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleUser, RoleAdmin, RoleModerator}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// Principal is the authenticated actor behind a request.
// The role is fixed for the lifetime of a request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Session is a persisted login session, looked up by the hash of its token.
type Session struct {
	TokenHash   string
	PrincipalID string
	Role        Role
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// IsExpired returns true if the session has passed its expiry time.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// IsRevoked returns true if the session has been revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// Principal returns the principal the session authenticates.
func (s *Session) Principal() Principal {
	return Principal{ID: s.PrincipalID, Role: s.Role}
}
