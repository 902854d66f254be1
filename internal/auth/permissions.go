package auth

// Role is an operator API authorisation tier.
type Role string

const (
	// RoleViewer can read station state, history and audio.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally retry failed uploads.
	RoleOperator Role = "operator"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Permission represents a named capability in the operator API.
type Permission string

// Permission constants.
const (
	PermStationRead  Permission = "station:read"
	PermMessageRead  Permission = "message:read"
	PermAudioRead    Permission = "audio:read"
	PermUploadRead   Permission = "upload:read"
	PermUploadRetry  Permission = "upload:retry"
	PermSystemStatus Permission = "system:status"
	PermAuditRead    Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStationRead,
		PermMessageRead,
		PermAudioRead,
		PermUploadRead,
		PermSystemStatus,
	},
	RoleOperator: {
		PermStationRead,
		PermMessageRead,
		PermAudioRead,
		PermUploadRead,
		PermUploadRetry,
		PermSystemStatus,
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
