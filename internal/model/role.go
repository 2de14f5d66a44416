package model

import "strings"

type Role string

const (
	RoleUser    Role = "User"
	RoleManager Role = "Manager"
	RoleAdmin   Role = "Admin"
)

func (r Role) rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleManager:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r.rank() > 0
}

// AtLeast reports whether r is at or above min in the User < Manager < Admin
// hierarchy. Unknown roles never satisfy any minimum.
func (r Role) AtLeast(min Role) bool {
	return r.rank() > 0 && r.rank() >= min.rank()
}

// ParseRole accepts any casing of the role names.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "user":
		return RoleUser, true
	case "manager":
		return RoleManager, true
	case "admin":
		return RoleAdmin, true
	default:
		return "", false
	}
}

// CanManage reports whether actor may administer target: Admins manage
// everyone, Managers manage the Users they created, nobody else manages anyone.
func CanManage(actor, target User) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		return target.Role == RoleUser && target.CreatedBy != nil && *target.CreatedBy == actor.ID
	default:
		return false
	}
}
