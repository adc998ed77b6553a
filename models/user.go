package models

import "time"

// Role is the authorization role attached to an authenticated actor.
// Authentication itself happens outside this service; every request
// arrives with an already-verified actor id and role.
type Role string

const (
	RoleStudent     Role = "student"
	RoleFacilitator Role = "facilitator"
	RoleAdmin       Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFacilitator, RoleAdmin:
		return true
	}
	return false
}

// CanModerate reports whether the role may pin, announce, mark solutions,
// or delete other users' content.
func (r Role) CanModerate() bool {
	return r == RoleFacilitator || r == RoleAdmin
}

// User is the author reference rendered alongside posts and comments.
// The row is owned by the platform's account service; this service only
// reads it to decorate forum payloads.
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Username  string    `gorm:"size:64;not null" json:"username"`
	AvatarURL string    `gorm:"size:512" json:"avatar_url"`
	Role      Role      `gorm:"size:16;default:'student'" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
