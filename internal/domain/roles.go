// Package domain defines shared domain constants and types.
package domain

// Role describes a member's standing inside the target group.
type Role string

const (
	// RoleOwner represents the group owner.
	RoleOwner Role = "owner"
	// RoleAdmin represents a group administrator.
	RoleAdmin Role = "admin"
	// RoleMember represents a regular group member.
	RoleMember Role = "member"
)

// Privileged reports whether the role is exempt from inactivity handling.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleAdmin
}
