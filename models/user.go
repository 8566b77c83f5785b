package models

import "time"

// Role names for role-based access control.
type Role = string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
	RoleAgent    Role = "agent"
)

// User is an account that can authenticate against the API.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username" validate:"required,min=3"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserResponse is the API representation of a user without credentials.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Roles    []Role `json:"roles"`
	Enabled  bool   `json:"enabled"`
}

// Response converts a user to its API representation.
func (u *User) Response() UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Roles: u.Roles, Enabled: u.Enabled}
}
