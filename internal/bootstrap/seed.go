package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth"
	roleentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/entity"
	rolerepo "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/repo"
	userentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/database"
)

// DemoPassword is the password of every seeded demo account.
const DemoPassword = "password123"

var (
	resources = []string{auth.ResourceUsers, auth.ResourceRoles, auth.ResourceSettings, auth.ResourceDashboard}
	actions   = []string{auth.ActionRead, auth.ActionManage}
)

type seedRole struct {
	name, display, description string
	system                     bool
	grants                     []auth.PermissionKey
}

var seedRoles = []seedRole{
	{name: roleentity.AdminRoleName, display: "Administrator", description: "Full system access", system: true},
	{name: "editor", display: "Editor", description: "Can create and edit content", grants: []auth.PermissionKey{
		{Resource: auth.ResourceDashboard, Action: auth.ActionRead},
		{Resource: auth.ResourceUsers, Action: auth.ActionRead},
	}},
	{name: "user", display: "User", description: "Basic user access", grants: []auth.PermissionKey{
		{Resource: auth.ResourceDashboard, Action: auth.ActionRead},
	}},
}

type seedUser struct {
	email, username, name, role string
}

var demoUsers = []seedUser{
	{email: "admin@example.com", username: "admin", name: "Admin User", role: roleentity.AdminRoleName},
	{email: "editor@example.com", username: "editor", name: "Editor User", role: "editor"},
	{email: "user@example.com", username: "user", name: "Regular User", role: "user"},
}

// Seed writes the permission catalogue, the built-in roles and, when
// demoUsers is set, the demo accounts. Existing rows are left alone, except
// that the admin role is topped up to every permission.
func Seed(ctx context.Context, db *sqlx.DB, hasher auth.PasswordHasher, withDemoUsers bool, now time.Time) error {
	var demoHash string
	if withDemoUsers {
		h, err := hasher.Hash(DemoPassword)
		if err != nil {
			return err
		}
		demoHash = h
	}
	roles := rolerepo.NewRoleRepo(db)
	return database.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		permIDs := map[auth.PermissionKey]int64{}
		for _, res := range resources {
			for _, act := range actions {
				p := &roleentity.Permission{
					Name:        res + "." + act,
					DisplayName: strings.ToUpper(act[:1]) + act[1:] + " " + res,
					Description: "Can " + act + " " + res,
					Resource:    res,
					Action:      act,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				id, err := roles.UpsertPermission(ctx, tx, p)
				if err != nil {
					return err
				}
				permIDs[auth.PermissionKey{Resource: res, Action: act}] = id
			}
		}

		roleIDs := map[string]int64{}
		for _, sr := range seedRoles {
			r, err := roles.UpsertRole(ctx, tx, &roleentity.Role{
				Name: sr.name, DisplayName: sr.display, Description: sr.description,
				IsSystem: sr.system, CreatedAt: now, UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			roleIDs[sr.name] = r.ID
			if r.IsAdmin() {
				if err := roles.GrantAllPermissions(ctx, tx, r.ID); err != nil {
					return err
				}
				continue
			}
			ids := make([]int64, 0, len(sr.grants))
			for _, g := range sr.grants {
				ids = append(ids, permIDs[g])
			}
			if err := roles.GrantPermissions(ctx, tx, r.ID, ids); err != nil {
				return err
			}
		}

		if !withDemoUsers {
			return nil
		}
		for _, du := range demoUsers {
			id, err := userrepo.InsertIfAbsent(ctx, tx, &userentity.User{
				Email: du.email, Username: du.username, PasswordHash: demoHash, Name: du.name,
				IsActive: true, IsVerified: true, CreatedAt: now, UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			if err := roles.GrantRoleToUser(ctx, tx, id, roleIDs[du.role]); err != nil {
				return err
			}
		}
		return nil
	})
}
