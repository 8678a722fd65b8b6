package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/setting/entity"
)

// Repo is the repository implementation for settings.
type Repo struct {
	db *sqlx.DB
}

// NewRepo constructs a new Repo with an existing connection.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// GetByKey returns the setting or sql.ErrNoRows.
func (r *Repo) GetByKey(ctx context.Context, key string) (*entity.Setting, error) {
	var st entity.Setting
	q := r.db.Rebind(`SELECT key, value, updated_at FROM settings WHERE key = ?`)
	if err := r.db.GetContext(ctx, &st, q, key); err != nil {
		return nil, err
	}
	return &st, nil
}

// Upsert writes value under key, replacing any previous value.
func (r *Repo) Upsert(ctx context.Context, st *entity.Setting) error {
	q := r.db.Rebind(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, q, st.Key, st.Value, st.UpdatedAt)
	return err
}

// List returns all settings ordered by key.
func (r *Repo) List(ctx context.Context) ([]*entity.Setting, error) {
	rows := []*entity.Setting{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT key, value, updated_at FROM settings ORDER BY key`); err != nil {
		return nil, err
	}
	return rows, nil
}
