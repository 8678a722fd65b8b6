package role

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/entity"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/repo"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/database"
)

var (
	ErrRoleNotFound        = errors.New("role not found")
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrConflict            = errors.New("role with this name already exists")
	ErrSystemRoleProtected = errors.New("system role is protected")
	ErrRoleInUse           = fmt.Errorf("%w: role is assigned to users", ErrSystemRoleProtected)
	ErrInvalidInput        = errors.New("invalid role input")
)

// Service manages roles and their permission grants.
type Service struct {
	db   *sqlx.DB
	repo *repo.RoleRepo
	now  func() time.Time
}

// NewService constructs a Service; r may be nil to build one on db.
func NewService(db *sqlx.DB, r *repo.RoleRepo) *Service {
	if r == nil {
		r = repo.NewRoleRepo(db)
	}
	return &Service{db: db, repo: r, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput describes a new role.
type CreateInput struct {
	Name          string  `json:"name"`
	DisplayName   string  `json:"display_name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
}

// UpdateInput carries optional changes; nil fields are left untouched.
type UpdateInput struct {
	DisplayName   *string  `json:"display_name"`
	Description   *string  `json:"description"`
	PermissionIDs *[]int64 `json:"permission_ids"`
}

// List returns every role with assignment counts.
func (s *Service) List(ctx context.Context) ([]entity.RoleSummary, error) {
	return s.repo.List(ctx)
}

// ListPermissions returns the full permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]entity.Permission, error) {
	return s.repo.ListPermissions(ctx, s.db)
}

// Get returns the role with its permissions.
func (s *Service) Get(ctx context.Context, id int64) (*entity.RoleWithPermissions, error) {
	return s.load(ctx, s.db, id)
}

func (s *Service) load(ctx context.Context, q sqlx.ExtContext, id int64) (*entity.RoleWithPermissions, error) {
	r, err := s.repo.GetByID(ctx, q, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	perms, err := s.repo.PermissionsForRole(ctx, q, id)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.CountUsers(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &entity.RoleWithPermissions{Role: *r, UserCount: users, Permissions: perms}, nil
}

// Create inserts a non-system role with the given permissions.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.RoleWithPermissions, error) {
	name := strings.TrimSpace(in.Name)
	display := strings.TrimSpace(in.DisplayName)
	if name == "" || display == "" {
		return nil, ErrInvalidInput
	}
	perms := Dedupe(in.PermissionIDs)
	now := s.now()
	var out *entity.RoleWithPermissions
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.checkPermissionsExist(ctx, tx, perms); err != nil {
			return err
		}
		r := &entity.Role{Name: name, DisplayName: display, Description: in.Description, CreatedAt: now, UpdatedAt: now}
		id, err := s.repo.Insert(ctx, tx, r)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}
		if err := s.repo.ReplacePermissions(ctx, tx, id, perms); err != nil {
			return err
		}
		out, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies metadata and permission changes in one transaction.
// The admin role rejects permission and display-name edits and always keeps
// every permission.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*entity.RoleWithPermissions, error) {
	now := s.now()
	var out *entity.RoleWithPermissions
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		existing, err := s.repo.GetByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRoleNotFound
			}
			return err
		}
		display := existing.DisplayName
		description := existing.Description
		if in.Description != nil {
			description = *in.Description
		}

		if existing.IsAdmin() || existing.IsSystem {
			if in.PermissionIDs != nil {
				return ErrSystemRoleProtected
			}
			if in.DisplayName != nil && strings.TrimSpace(*in.DisplayName) != existing.DisplayName {
				return ErrSystemRoleProtected
			}
			if err := s.repo.GrantAllPermissions(ctx, tx, id); err != nil {
				return err
			}
		} else {
			if in.DisplayName != nil {
				display = strings.TrimSpace(*in.DisplayName)
				if display == "" {
					return ErrInvalidInput
				}
			}
			if in.PermissionIDs != nil {
				perms := Dedupe(*in.PermissionIDs)
				if err := s.checkPermissionsExist(ctx, tx, perms); err != nil {
					return err
				}
				if err := s.repo.ReplacePermissions(ctx, tx, id, perms); err != nil {
					return err
				}
			}
		}

		if err := s.repo.UpdateMeta(ctx, tx, id, display, description, now); err != nil {
			return err
		}
		out, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a role. System roles and roles still held by users are refused.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		existing, err := s.repo.GetByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRoleNotFound
			}
			return err
		}
		if existing.IsAdmin() || existing.IsSystem {
			return ErrSystemRoleProtected
		}
		n, err := s.repo.CountUsers(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrRoleInUse
		}
		return s.repo.Delete(ctx, tx, id)
	})
}

// GetByName returns the role with machine key name.
func (s *Service) GetByName(ctx context.Context, q sqlx.ExtContext, name string) (*entity.Role, error) {
	r, err := s.repo.GetByName(ctx, q, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return r, nil
}

// CheckRolesExist returns ErrRoleNotFound unless every id names a role.
func (s *Service) CheckRolesExist(ctx context.Context, q sqlx.ExtContext, ids []int64) error {
	n, err := s.repo.CountExisting(ctx, q, "roles", ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return ErrRoleNotFound
	}
	return nil
}

func (s *Service) checkPermissionsExist(ctx context.Context, q sqlx.ExtContext, ids []int64) error {
	n, err := s.repo.CountExisting(ctx, q, "permissions", ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return ErrPermissionNotFound
	}
	return nil
}

// Dedupe removes repeated ids, keeping first-seen order.
func Dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
