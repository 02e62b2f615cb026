package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermProfileWrite   Permission = "profile:write"
	PermFriendsManage  Permission = "friends:manage"
	PermUsersList      Permission = "users:list"
	PermUsersDelete    Permission = "users:delete"
	PermUsersLock      Permission = "users:lock"
	PermSessionsRevoke Permission = "sessions:revoke"
	PermUsersRole      Permission = "users:role"
	PermAuditRead      Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleGuest: {
		PermProfileWrite,
	},
	RoleUser: {
		PermProfileWrite,
		PermFriendsManage,
	},
	RoleAdmin: {
		PermProfileWrite,
		PermFriendsManage,
		PermUsersList,
		PermUsersDelete,
		PermUsersLock,
		PermSessionsRevoke,
		PermAuditRead,
	},
	RoleOwn: {
		PermProfileWrite,
		PermFriendsManage,
		PermUsersList,
		PermUsersDelete,
		PermUsersLock,
		PermSessionsRevoke,
		PermUsersRole,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// IsAdminTier reports whether the role passes the admin gate (admin or own).
func IsAdminTier(role Role) bool {
	switch role {
	case RoleOwn, RoleAdmin:
		return true
	case RoleUser, RoleGuest:
		return false
	default:
		return false
	}
}

// IsOwnerTier reports whether the role passes the owner gate (own only).
func IsOwnerTier(role Role) bool {
	switch role {
	case RoleOwn:
		return true
	case RoleAdmin, RoleUser, RoleGuest:
		return false
	default:
		return false
	}
}
