package auth

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

// Failure reasons written to the ledger.
const (
	reasonUnknownUser   = "Invalid credentials"
	reasonDisabled      = "Account is disabled"
	reasonNotVerified   = "Account not verified"
	reasonLocked        = "Account locked due to too many failed attempts"
	reasonBadPassword   = "Invalid password"
	reasonBad2FA        = "Invalid 2FA code"
	reasonBad2FAPending = "Invalid 2FA code during verification"
	reasonNo2FASecret   = "2FA not properly configured"
)

// AttemptRepository is the persistence contract of the ledger.
type AttemptRepository interface {
	Insert(ctx context.Context, a *entity.LoginAttempt) error
	CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Attempt describes one login attempt to be recorded.
type Attempt struct {
	Email     string
	IPAddress string
	UserAgent string
	UserID    *int64
	Success   bool
	Reason    string
}

// Ledger appends login attempts and counts recent failures.
type Ledger struct {
	repo AttemptRepository
	now  func() time.Time
}

func NewLedger(r AttemptRepository, now func() time.Time) *Ledger {
	if now == nil {
		now = utcNow
	}
	return &Ledger{repo: r, now: now}
}

// Record appends a. Failures are returned to the caller since the ledger drives lockout.
func (l *Ledger) Record(ctx context.Context, a Attempt) error {
	id, err := utilities.NewSnowflakeID()
	if err != nil {
		return storeErr("record attempt", err)
	}
	row := &entity.LoginAttempt{
		ID:          id,
		Email:       a.Email,
		IPAddress:   a.IPAddress,
		Success:     a.Success,
		UserID:      a.UserID,
		UserAgent:   optional(a.UserAgent),
		AttemptedAt: l.now(),
	}
	if !a.Success {
		row.FailureReason = optional(a.Reason)
	}
	return storeErr("record attempt", l.repo.Insert(ctx, row))
}

// CountRecentFailures counts failed attempts for email in the trailing window.
func (l *Ledger) CountRecentFailures(ctx context.Context, email string, window time.Duration) (int, error) {
	n, err := l.repo.CountFailuresSince(ctx, email, l.now().Add(-window))
	if err != nil {
		return 0, storeErr("count failures", err)
	}
	return n, nil
}

// Purge deletes attempts older than before.
func (l *Ledger) Purge(ctx context.Context, before time.Time) (int, error) {
	n, err := l.repo.DeleteBefore(ctx, before)
	if err != nil {
		return 0, storeErr("purge attempts", err)
	}
	return int(n), nil
}
