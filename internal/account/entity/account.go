package entity

import (
	"fmt"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// ParseRole validates a raw role value. Empty input maps to RoleUser.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "":
		return RoleUser, nil
	case RoleAdmin, RoleManager, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

// Account represents a row in the `accounts` table.
// PasswordHash never leaves the service layer; it is excluded from JSON.
type Account struct {
	ID             int64      `db:"id" json:"id"`
	FullName       string     `db:"full_name" json:"full_name"`
	Birthday       *time.Time `db:"birthday" json:"birthday,omitempty"`
	Sex            *string    `db:"sex" json:"sex,omitempty"`
	EmailPersonal  string     `db:"email_personal" json:"email_personal"`
	EmailCorporate string     `db:"email_corporate" json:"email_corporate"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	PhoneNumber    string     `db:"phone_number" json:"phone_number"`
	TgName         *string    `db:"tg_name" json:"tg_name,omitempty"`
	Position       string     `db:"position_employee" json:"position"`
	Subdivision    string     `db:"subdivision" json:"subdivision"`
	Role           Role       `db:"role" json:"role"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	LoginAttempts  int        `db:"login_attempts" json:"login_attempts"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Blocked reports the lockout state.
func (a *Account) Blocked() bool { return !a.IsActive }

// ProfilePatch carries optional profile updates; nil fields are left unchanged.
type ProfilePatch struct {
	FullName    *string    `json:"full_name,omitempty"`
	PhoneNumber *string    `json:"phone_number,omitempty"`
	Birthday    *time.Time `json:"birthday,omitempty"`
	Sex         *string    `json:"sex,omitempty"`
	TgName      *string    `json:"tg_name,omitempty"`
	Position    *string    `json:"position,omitempty"`
	Subdivision *string    `json:"subdivision,omitempty"`
	Role        *Role      `json:"role,omitempty"`
}
