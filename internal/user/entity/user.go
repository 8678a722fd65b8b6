package entity

import "time"

// User represents an account row in the `users` table.
type User struct {
	ID                int64      `db:"id"`
	Email             string     `db:"email"`
	Username          string     `db:"username"`
	PasswordHash      string     `db:"password_hash"`
	Name              string     `db:"name"`
	IsActive          bool       `db:"is_active"`
	IsVerified        bool       `db:"is_verified"`
	VerificationToken *string    `db:"verification_token"`
	TwoFactorEnabled  bool       `db:"two_factor_enabled"`
	TwoFactorSecret   *string    `db:"two_factor_secret"` // base32
	LastLoginAt       *time.Time `db:"last_login_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// HasTwoFactorSecret reports whether a non-empty secret is stored.
func (u *User) HasTwoFactorSecret() bool {
	return u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}
