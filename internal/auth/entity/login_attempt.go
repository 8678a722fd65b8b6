package entity

import "time"

// LoginAttempt is an append-only audit row; failed rows drive lockout.
type LoginAttempt struct {
	ID            int64     `db:"id"`
	Email         string    `db:"email"`
	IPAddress     string    `db:"ip_address"`
	Success       bool      `db:"success"`
	FailureReason *string   `db:"failure_reason"`
	UserID        *int64    `db:"user_id"`
	UserAgent     *string   `db:"user_agent"`
	AttemptedAt   time.Time `db:"attempted_at"`
}
