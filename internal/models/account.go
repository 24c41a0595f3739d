package models

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Account is a marketplace user. Usernames and emails are unique without
// regard to case.
type Account struct {
	ID                     string     `json:"id"`
	Username               string     `json:"username"`
	Email                  string     `json:"email"`
	FullName               string     `json:"fullName"`
	Phone                  *string    `json:"phone,omitempty"`
	PasswordHash           string     `json:"-"`
	Role                   Role       `json:"role"`
	Enabled                bool       `json:"enabled"`
	EmailVerified          bool       `json:"emailVerified"`
	AccountLocked          bool       `json:"accountLocked"`
	FailedLoginAttempts    int        `json:"failedLoginAttempts"`
	LockTime               *time.Time `json:"lockTime,omitempty"`
	LastLoginAt            *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP            *string    `json:"lastLoginIp,omitempty"`
	VerificationToken      *string    `json:"-"`
	VerificationExpiresAt  *time.Time `json:"-"`
	PasswordResetToken     *string    `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Admin is an administrator. Admins live in their own table and never go
// through lockout or device trust.
type Admin struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FullName     string     `json:"fullName"`
	PasswordHash string     `json:"-"`
	Enabled      bool       `json:"enabled"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
