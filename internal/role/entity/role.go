package entity

import "time"

// AdminRoleName is the machine key of the protected system role.
const AdminRoleName = "admin"

// Role is a named permission bundle.
type Role struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Description string    `db:"description" json:"description"`
	IsSystem    bool      `db:"is_system" json:"is_system"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// IsAdmin reports whether r is the protected admin role.
func (r *Role) IsAdmin() bool { return r.Name == AdminRoleName }

// Permission is an atomic (resource, action) capability.
type Permission struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Description string    `db:"description" json:"description"`
	Resource    string    `db:"resource" json:"resource"`
	Action      string    `db:"action" json:"action"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// RoleSummary is a role with its assignment counts.
type RoleSummary struct {
	Role
	UserCount       int `db:"user_count" json:"user_count"`
	PermissionCount int `db:"permission_count" json:"permission_count"`
}

// RoleWithPermissions is a role and every permission granted to it.
type RoleWithPermissions struct {
	Role
	UserCount   int          `json:"user_count"`
	Permissions []Permission `json:"permissions"`
}
