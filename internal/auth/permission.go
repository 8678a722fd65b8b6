package auth

import (
	"time"

	roleentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/entity"
	userentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/entity"
)

// Resources and actions known to the seeded permission catalogue.
const (
	ResourceUsers     = "users"
	ResourceRoles     = "roles"
	ResourceSettings  = "settings"
	ResourceDashboard = "dashboard"

	ActionRead   = "read"
	ActionManage = "manage"
)

// PermissionKey identifies a capability.
type PermissionKey struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// RoleGrant is one role with the permissions it carried when the snapshot was taken.
type RoleGrant struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	Permissions []PermissionKey `json:"permissions"`
}

// AuthenticatedUser is the immutable view of a user attached to a request.
// Role and permission changes made after it was built are not reflected.
type AuthenticatedUser struct {
	ID               int64       `json:"id"`
	Email            string      `json:"email"`
	Username         string      `json:"username"`
	Name             string      `json:"name"`
	IsActive         bool        `json:"is_active"`
	IsVerified       bool        `json:"is_verified"`
	TwoFactorEnabled bool        `json:"two_factor_enabled"`
	LastLoginAt      *time.Time  `json:"last_login_at,omitempty"`
	Roles            []RoleGrant `json:"roles"`
}

// NewAuthenticatedUser copies u and its roles into a snapshot. Secrets and hashes are not carried.
func NewAuthenticatedUser(u *userentity.User, roles []roleentity.RoleWithPermissions) AuthenticatedUser {
	au := AuthenticatedUser{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		Name:             u.Name,
		IsActive:         u.IsActive,
		IsVerified:       u.IsVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
		Roles:            make([]RoleGrant, 0, len(roles)),
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		au.LastLoginAt = &t
	}
	for _, r := range roles {
		g := RoleGrant{ID: r.ID, Name: r.Name, DisplayName: r.DisplayName, Permissions: make([]PermissionKey, 0, len(r.Permissions))}
		for _, p := range r.Permissions {
			g.Permissions = append(g.Permissions, PermissionKey{Resource: p.Resource, Action: p.Action})
		}
		au.Roles = append(au.Roles, g)
	}
	return au
}

// HasPermission reports whether any role grants exactly (resource, action).
// There is no wildcard and "manage" does not imply "read".
func (u AuthenticatedUser) HasPermission(resource, action string) bool {
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			if p.Resource == resource && p.Action == action {
				return true
			}
		}
	}
	return false
}

// HasRole reports whether the user holds the named role.
func (u AuthenticatedUser) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasPermission is the nil-safe form; an anonymous user has no permissions.
func HasPermission(u *AuthenticatedUser, resource, action string) bool {
	if u == nil {
		return false
	}
	return u.HasPermission(resource, action)
}
