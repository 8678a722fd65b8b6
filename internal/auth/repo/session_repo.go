package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
)

// SessionRepo persists sessions in the sessions table.
type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Insert(ctx context.Context, s *entity.Session) error {
	q := r.db.Rebind(`INSERT INTO sessions (id, user_id, token, ip_address, user_agent, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, s.ID, s.UserID, s.Token, s.IPAddress, s.UserAgent, s.ExpiresAt, s.CreatedAt)
	return err
}

// GetByToken returns the session row regardless of expiry, or sql.ErrNoRows.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*entity.Session, error) {
	var s entity.Session
	q := r.db.Rebind(`SELECT id, user_id, token, ip_address, user_agent, expires_at, created_at FROM sessions WHERE token = ?`)
	if err := r.db.GetContext(ctx, &s, q, token); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	return err
}

func (r *SessionRepo) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE user_id = ?`), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
