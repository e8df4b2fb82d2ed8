package rbac

// Role names. They appear in issued tokens, so keep them stable.
const (
	RoleOperator   = "operator"
	RoleViewer     = "viewer"
	RoleSuperAdmin = "super_admin"
	RoleFieldTech  = "field_tech" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleFieldTech }

// Known reports whether role is one keeperd issues tokens for.
func Known(role string) bool {
	switch role {
	case RoleOperator, RoleViewer, RoleSuperAdmin, RoleFieldTech:
		return true
	}
	return false
}

// Allows decides a role against an allow list. super_admin passes every
// list; every other role, hidden ones included, must be listed.
func Allows(role string, allowed ...string) bool {
	if role == "" {
		return false
	}
	if IsSuperAdmin(role) {
		return true
	}
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}
