package model

import "time"

// Role is a member's rank inside a group.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanManage reports whether the role may invite or kick.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"group_name"`
	Avatar    string    `json:"group_avatar,omitempty"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupMember is one row of a group roster. Exactly one member per group
// holds RoleOwner and it matches Group.OwnerID.
type GroupMember struct {
	GroupID  int64     `json:"group_id"`
	UserID   int64     `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
