package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/entity"
)

const userColumns = `id, email, username, password_hash, name, is_active, is_verified,
	verification_token, two_factor_enabled, two_factor_secret, last_login_at, created_at, updated_at`

// UserRepo provides data access for the users table using sqlx.
// Lookups that find nothing return sql.ErrNoRows.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row and assigns the given roles in the same transaction.
func (r *UserRepo) Create(ctx context.Context, tx *sqlx.Tx, u *entity.User, roleIDs []int64) (int64, error) {
	q := tx.Rebind(`INSERT INTO users (email, username, password_hash, name, is_active, is_verified,
		verification_token, two_factor_enabled, two_factor_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	if err := tx.GetContext(ctx, &u.ID, q, u.Email, u.Username, u.PasswordHash, u.Name, u.IsActive, u.IsVerified,
		u.VerificationToken, u.TwoFactorEnabled, u.TwoFactorSecret, u.CreatedAt, u.UpdatedAt); err != nil {
		return 0, err
	}
	if err := ReplaceRoles(ctx, tx, u.ID, roleIDs); err != nil {
		return 0, err
	}
	return u.ID, nil
}

// GetByEmail returns a user matched by email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var row entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	if err := r.db.GetContext(ctx, &row, q, email); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var row entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByVerificationToken fetches the user awaiting verification with token.
func (r *UserRepo) GetByVerificationToken(ctx context.Context, token string) (*entity.User, error) {
	var row entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE verification_token = ?`)
	if err := r.db.GetContext(ctx, &row, q, token); err != nil {
		return nil, err
	}
	return &row, nil
}

// ExistsByEmailOrUsername reports whether either identifier is taken.
// Pass the open transaction as q when checking inside one.
func (r *UserRepo) ExistsByEmailOrUsername(ctx context.Context, q sqlx.QueryerContext, email, username string) (bool, error) {
	if q == nil {
		q = r.db
	}
	var n int
	if err := sqlx.GetContext(ctx, q, &n, r.db.Rebind(`SELECT COUNT(*) FROM users WHERE email = ? OR username = ?`), email, username); err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchLastLogin records a successful login time.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	q := r.db.Rebind(`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, at, at, id)
	return err
}

// SetTwoFactor writes the flag and the secret in one statement so neither is
// ever observable without the other.
func (r *UserRepo) SetTwoFactor(ctx context.Context, id int64, enabled bool, secret *string, at time.Time) error {
	q := r.db.Rebind(`UPDATE users SET two_factor_enabled = ?, two_factor_secret = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, enabled, secret, at, id)
	return err
}

// MarkVerified sets is_verified and clears the verification token.
func (r *UserRepo) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	q := r.db.Rebind(`UPDATE users SET is_verified = ?, verification_token = NULL, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, true, at, id)
	return err
}

// SetActive toggles is_active. Returns the number of rows touched.
func (r *UserRepo) SetActive(ctx context.Context, id int64, active bool, at time.Time) (int64, error) {
	q := r.db.Rebind(`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, active, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes a user; sessions, pending auths and role rows cascade.
func (r *UserRepo) Delete(ctx context.Context, id int64) (int64, error) {
	q := r.db.Rebind(`DELETE FROM users WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceRoles rewrites the user's role rows inside tx.
func ReplaceRoles(ctx context.Context, tx *sqlx.Tx, userID int64, roleIDs []int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM user_roles WHERE user_id = ?`), userID); err != nil {
		return err
	}
	ins := tx.Rebind(`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`)
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, ins, userID, roleID); err != nil {
			return err
		}
	}
	return nil
}

// InsertIfAbsent creates u unless its email is taken and returns the stored id.
func InsertIfAbsent(ctx context.Context, q sqlx.ExtContext, u *entity.User) (int64, error) {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO users (email, username, password_hash, name, is_active, is_verified,
		two_factor_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (email) DO NOTHING`),
		u.Email, u.Username, u.PasswordHash, u.Name, u.IsActive, u.IsVerified, false, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return 0, err
	}
	err = sqlx.GetContext(ctx, q, &u.ID, q.Rebind(`SELECT id FROM users WHERE email = ?`), u.Email)
	return u.ID, err
}
