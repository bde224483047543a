package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account known to the identity provider. Only the role matters
// to key issuance: admins are exempt from the active key cap.
type User struct {
	ID        string    `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	Role      string    `db:"role"       json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
