package auth

import "github.com/odyssey-erp/webguard/internal/rbac"

// User represents an account allowed to log in.
type User struct {
	Username     string
	PasswordHash string
	Admin        bool
	Roles        []string
	IsActive     bool
}

// Identity returns the session principal for the user.
func (u *User) Identity() *rbac.Identity {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &rbac.Identity{Subject: u.Username, Admin: u.Admin, Roles: roles}
}
