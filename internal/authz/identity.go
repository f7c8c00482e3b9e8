package authz

import "strings"

// Role is the role classification stored on every user account.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleAnalyst Role = "ANALYST"
)

// ValidRoles returns every role an account may hold.
func ValidRoles() []Role {
	return []Role{RoleAdmin, RoleAnalyst}
}

// ParseRole normalizes s (trimmed, case-insensitive) into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range ValidRoles() {
		if r == valid {
			return r, true
		}
	}
	return "", false
}

// Identity is the authenticated caller as seen by the policy.
type Identity struct {
	UserID      uint   `json:"id"`
	Username    string `json:"username"`
	Role        Role   `json:"role"`
	IsSuperuser bool   `json:"is_superuser"`
	IsStaff     bool   `json:"is_staff"`
}

// HasAdminCapability reports whether any of the three sources of admin
// authority is present: the superuser flag, the staff flag, or the ADMIN role.
// Every admin check in the service goes through this function.
func HasAdminCapability(id Identity) bool {
	return id.IsSuperuser || id.IsStaff || id.Role == RoleAdmin
}
