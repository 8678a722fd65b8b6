package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/entity"
)

const roleColumns = `id, name, display_name, description, is_system, created_at, updated_at`

const permissionColumns = `p.id, p.name, p.display_name, p.description, p.resource, p.action, p.created_at, p.updated_at`

// RoleRepo provides data access for roles, permissions and their join rows.
// Methods taking sqlx.ExtContext run against either the pool or a transaction.
type RoleRepo struct {
	db *sqlx.DB
}

func NewRoleRepo(db *sqlx.DB) *RoleRepo { return &RoleRepo{db: db} }

// DB exposes the pool for callers that open transactions.
func (r *RoleRepo) DB() *sqlx.DB { return r.db }

// GetByID returns the role or sql.ErrNoRows.
func (r *RoleRepo) GetByID(ctx context.Context, q sqlx.ExtContext, id int64) (*entity.Role, error) {
	var row entity.Role
	if err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+roleColumns+` FROM roles WHERE id = ?`), id); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByName returns the role or sql.ErrNoRows.
func (r *RoleRepo) GetByName(ctx context.Context, q sqlx.ExtContext, name string) (*entity.Role, error) {
	var row entity.Role
	if err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+roleColumns+` FROM roles WHERE name = ?`), name); err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns every role with counts, system roles first.
func (r *RoleRepo) List(ctx context.Context) ([]entity.RoleSummary, error) {
	const q = `SELECT r.id, r.name, r.display_name, r.description, r.is_system, r.created_at, r.updated_at,
		(SELECT COUNT(*) FROM user_roles ur WHERE ur.role_id = r.id) AS user_count,
		(SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id) AS permission_count
	FROM roles r ORDER BY r.is_system DESC, r.created_at DESC, r.id DESC`
	rows := []entity.RoleSummary{}
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert creates a role row and returns its id.
func (r *RoleRepo) Insert(ctx context.Context, q sqlx.ExtContext, role *entity.Role) (int64, error) {
	stmt := q.Rebind(`INSERT INTO roles (name, display_name, description, is_system, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	if err := sqlx.GetContext(ctx, q, &role.ID, stmt, role.Name, role.DisplayName, role.Description, role.IsSystem, role.CreatedAt, role.UpdatedAt); err != nil {
		return 0, err
	}
	return role.ID, nil
}

// UpdateMeta rewrites display name and description.
func (r *RoleRepo) UpdateMeta(ctx context.Context, q sqlx.ExtContext, id int64, displayName, description string, at time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE roles SET display_name = ?, description = ?, updated_at = ? WHERE id = ?`),
		displayName, description, at, id)
	return err
}

// ReplacePermissions rewrites the role's permission rows.
func (r *RoleRepo) ReplacePermissions(ctx context.Context, q sqlx.ExtContext, roleID int64, permissionIDs []int64) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM role_permissions WHERE role_id = ?`), roleID); err != nil {
		return err
	}
	ins := q.Rebind(`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)`)
	for _, pid := range permissionIDs {
		if _, err := q.ExecContext(ctx, ins, roleID, pid); err != nil {
			return err
		}
	}
	return nil
}

// GrantAllPermissions adds every permission the role lacks.
func (r *RoleRepo) GrantAllPermissions(ctx context.Context, q sqlx.ExtContext, roleID int64) error {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO role_permissions (role_id, permission_id)
		SELECT CAST(? AS BIGINT), p.id FROM permissions p
		WHERE NOT EXISTS (SELECT 1 FROM role_permissions rp WHERE rp.role_id = ? AND rp.permission_id = p.id)`),
		roleID, roleID)
	return err
}

// Delete removes the role; its permission rows cascade.
func (r *RoleRepo) Delete(ctx context.Context, q sqlx.ExtContext, id int64) error {
	_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM roles WHERE id = ?`), id)
	return err
}

// CountUsers returns how many users hold the role.
func (r *RoleRepo) CountUsers(ctx context.Context, q sqlx.ExtContext, roleID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM user_roles WHERE role_id = ?`), roleID)
	return n, err
}

// CountExisting returns how many of ids exist in table (roles or permissions).
func (r *RoleRepo) CountExisting(ctx context.Context, q sqlx.ExtContext, table string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM `+table+` WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	var n int
	err = sqlx.GetContext(ctx, q, &n, q.Rebind(query), args...)
	return n, err
}

// ListPermissions returns every permission ordered by resource, action.
func (r *RoleRepo) ListPermissions(ctx context.Context, q sqlx.ExtContext) ([]entity.Permission, error) {
	rows := []entity.Permission{}
	err := sqlx.SelectContext(ctx, q, &rows, `SELECT `+permissionColumns+` FROM permissions p ORDER BY p.resource, p.action`)
	return rows, err
}

// PermissionsForRole returns the permissions granted to a role.
func (r *RoleRepo) PermissionsForRole(ctx context.Context, q sqlx.ExtContext, roleID int64) ([]entity.Permission, error) {
	rows := []entity.Permission{}
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`SELECT `+permissionColumns+` FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ? ORDER BY p.resource, p.action`), roleID)
	return rows, err
}

// UpsertPermission inserts the (resource, action) permission if missing and returns its id.
func (r *RoleRepo) UpsertPermission(ctx context.Context, q sqlx.ExtContext, p *entity.Permission) (int64, error) {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO permissions (name, display_name, description, resource, action, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (resource, action) DO NOTHING`),
		p.Name, p.DisplayName, p.Description, p.Resource, p.Action, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return 0, err
	}
	err = sqlx.GetContext(ctx, q, &p.ID, q.Rebind(`SELECT id FROM permissions WHERE resource = ? AND action = ?`), p.Resource, p.Action)
	return p.ID, err
}

// UpsertRole inserts the role if its name is free and returns the stored row.
func (r *RoleRepo) UpsertRole(ctx context.Context, q sqlx.ExtContext, role *entity.Role) (*entity.Role, error) {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO roles (name, display_name, description, is_system, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (name) DO NOTHING`),
		role.Name, role.DisplayName, role.Description, role.IsSystem, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r.GetByName(ctx, q, role.Name)
}

// GrantPermissions adds the listed permissions, skipping ones already granted.
func (r *RoleRepo) GrantPermissions(ctx context.Context, q sqlx.ExtContext, roleID int64, permissionIDs []int64) error {
	ins := q.Rebind(`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	for _, pid := range permissionIDs {
		if _, err := q.ExecContext(ctx, ins, roleID, pid); err != nil {
			return err
		}
	}
	return nil
}

// GrantRoleToUser adds the user_roles row if missing.
func (r *RoleRepo) GrantRoleToUser(ctx context.Context, q sqlx.ExtContext, userID, roleID int64) error {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?) ON CONFLICT DO NOTHING`), userID, roleID)
	return err
}

// grantRow is one (role, permission) pair for a user.
type grantRow struct {
	RoleID          int64   `db:"role_id"`
	RoleName        string  `db:"role_name"`
	RoleDisplayName string  `db:"role_display_name"`
	Resource        *string `db:"resource"`
	Action          *string `db:"action"`
}

// ListForUser loads every role assigned to the user with its permissions.
// Roles with no permissions are still returned.
func (r *RoleRepo) ListForUser(ctx context.Context, userID int64) ([]entity.RoleWithPermissions, error) {
	rows := []grantRow{}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT r.id AS role_id, r.name AS role_name, r.display_name AS role_display_name,
		p.resource, p.action
	FROM user_roles ur
	JOIN roles r ON r.id = ur.role_id
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
	LEFT JOIN permissions p ON p.id = rp.permission_id
	WHERE ur.user_id = ?
	ORDER BY r.id, p.resource, p.action`), userID)
	if err != nil {
		return nil, err
	}
	out := []entity.RoleWithPermissions{}
	index := map[int64]int{}
	for _, row := range rows {
		i, ok := index[row.RoleID]
		if !ok {
			out = append(out, entity.RoleWithPermissions{Role: entity.Role{ID: row.RoleID, Name: row.RoleName, DisplayName: row.RoleDisplayName}})
			i = len(out) - 1
			index[row.RoleID] = i
		}
		if row.Resource != nil && row.Action != nil {
			out[i].Permissions = append(out[i].Permissions, entity.Permission{Resource: *row.Resource, Action: *row.Action})
		}
	}
	return out, nil
}
