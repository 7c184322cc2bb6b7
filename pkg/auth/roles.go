package auth

// Role represents an API caller role with hierarchical permissions
type Role int

const (
	// Viewer may run version checks and inspect locks
	Viewer Role = iota
	// Operator may additionally run updates
	Operator
	// Admin may additionally force-release update locks
	Admin
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case Admin:
		return "admin"
	case Operator:
		return "operator"
	case Viewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role, defaulting to the lowest privilege
func ParseRole(roleStr string) Role {
	switch roleStr {
	case "admin":
		return Admin
	case "operator":
		return Operator
	default:
		return Viewer
	}
}

// HasPermission checks if the role has sufficient permissions for the required role
// Higher roles automatically have permissions for lower roles
func (r Role) HasPermission(required Role) bool {
	return r >= required
}
