package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
)

// PendingRepo persists pending-auth tokens in the pending_auths table.
type PendingRepo struct {
	db *sqlx.DB
}

func NewPendingRepo(db *sqlx.DB) *PendingRepo {
	return &PendingRepo{db: db}
}

func (r *PendingRepo) Insert(ctx context.Context, p *entity.PendingAuth) error {
	q := r.db.Rebind(`INSERT INTO pending_auths (id, token, user_id, ip_address, user_agent, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, p.ID, p.Token, p.UserID, p.IPAddress, p.UserAgent, p.ExpiresAt, p.CreatedAt)
	return err
}

// Take deletes the row for token and returns it, or sql.ErrNoRows.
// The single DELETE ... RETURNING means concurrent callers can never both receive it.
func (r *PendingRepo) Take(ctx context.Context, token string) (*entity.PendingAuth, error) {
	var p entity.PendingAuth
	q := r.db.Rebind(`DELETE FROM pending_auths WHERE token = ?
		RETURNING id, token, user_id, ip_address, user_agent, expires_at, created_at`)
	if err := r.db.GetContext(ctx, &p, q, token); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PendingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM pending_auths WHERE expires_at <= ?`), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
