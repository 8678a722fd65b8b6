package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
)

// AttemptRepo appends to and counts the login_attempts ledger.
type AttemptRepo struct {
	db *sqlx.DB
}

func NewAttemptRepo(db *sqlx.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

func (r *AttemptRepo) Insert(ctx context.Context, a *entity.LoginAttempt) error {
	q := r.db.Rebind(`INSERT INTO login_attempts (id, email, ip_address, success, failure_reason, user_id, user_agent, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, a.ID, a.Email, a.IPAddress, a.Success, a.FailureReason, a.UserID, a.UserAgent, a.AttemptedAt)
	return err
}

// CountFailuresSince counts failed attempts for email at or after since.
func (r *AttemptRepo) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	q := r.db.Rebind(`SELECT COUNT(*) FROM login_attempts WHERE email = ? AND success = ? AND attempted_at >= ?`)
	if err := r.db.GetContext(ctx, &n, q, email, false, since); err != nil {
		return 0, err
	}
	return n, nil
}

// ListByEmail returns the newest attempts for email first.
func (r *AttemptRepo) ListByEmail(ctx context.Context, email string, limit int) ([]entity.LoginAttempt, error) {
	rows := []entity.LoginAttempt{}
	q := r.db.Rebind(`SELECT id, email, ip_address, success, failure_reason, user_id, user_agent, attempted_at
		FROM login_attempts WHERE email = ? ORDER BY attempted_at DESC, id DESC LIMIT ?`)
	if err := r.db.SelectContext(ctx, &rows, q, email, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteBefore purges attempts older than before.
func (r *AttemptRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM login_attempts WHERE attempted_at < ?`), before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
