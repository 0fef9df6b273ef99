package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read state but not change it.
	RoleViewer Role = "viewer"

	// RoleOperator drives receivers: casting, playback and volume.
	RoleOperator Role = "operator"

	// RoleAdmin also manages the set of paired devices.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of valid roles.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Domain errors for the auth package.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSecret     = errors.New("jwt secret is required")
)
