package core

import "time"

// Role is the platform-wide role assigned to a user.
type Role string

const (
	// RoleAdmin can view and modify every operation.
	RoleAdmin Role = "admin"
	// RoleOperator can view every operation and modify operations they are a member of.
	RoleOperator Role = "operator"
	// RoleViewer can only view operations they are a member of.
	RoleViewer Role = "viewer"
)

// IsValid checks if the role is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// User represents an authenticated platform user
type User struct {
	Username     string    `json:"username" validate:"required,min=1,max=255"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role" validate:"required"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Caller is the identity attached to a request after authentication.
type Caller struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
