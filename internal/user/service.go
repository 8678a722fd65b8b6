package user

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

// DefaultRoleName is assigned to self-registered users.
const DefaultRoleName = "user"

const minPasswordLen = 8

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrConflict           = errors.New("user with this email or username already exists")
	ErrInvalidInput       = errors.New("invalid user input")
	ErrInvalidToken       = errors.New("invalid verification token")
	ErrSelfModification   = errors.New("cannot deactivate or delete your own account")
	ErrDefaultRoleMissing = errors.New("default role is not seeded")
)

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID int64) error
}

// UserService orchestrates user lifecycle flows that touch authentication state.
type UserService struct {
	db       *sqlx.DB
	repo     *userrepo.UserRepo
	roles    *role.Service
	hasher   auth.PasswordHasher
	sessions SessionRevoker
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewUserService(db *sqlx.DB, r *userrepo.UserRepo, roles *role.Service, hasher auth.PasswordHasher, sessions SessionRevoker, logger *zap.SugaredLogger) *UserService {
	if r == nil {
		r = userrepo.NewUserRepo(db)
	}
	if roles == nil {
		roles = role.NewService(db, nil)
	}
	if hasher == nil {
		hasher = auth.NewBcryptHasher(0)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{db: db, repo: r, roles: roles, hasher: hasher, sessions: sessions, logger: logger,
		now: func() time.Time { return time.Now().UTC() }}
}

// RegisterInput is a self-service signup.
type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Registered is the outcome of Register. VerificationToken must reach the user out of band.
type Registered struct {
	User              *entity.User
	VerificationToken string
}

// Register creates an unverified account holding the default role.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*Registered, error) {
	email, username, name, ok := normalizeAccount(in.Email, in.Username, in.Name, in.Password)
	if !ok {
		return nil, ErrInvalidInput
	}
	taken, err := s.repo.ExistsByEmailOrUsername(ctx, nil, email, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrConflict
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	token, err := utilities.NewToken(24)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &entity.User{
		Email:             email,
		Username:          username,
		PasswordHash:      hash,
		Name:              name,
		IsActive:          true,
		IsVerified:        false,
		VerificationToken: &token,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		def, err := s.roles.GetByName(ctx, tx, DefaultRoleName)
		if err != nil {
			if errors.Is(err, role.ErrRoleNotFound) {
				return ErrDefaultRoleMissing
			}
			return err
		}
		_, err = s.repo.Create(ctx, tx, u, []int64{def.ID})
		if database.IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("user registered", "user_id", u.ID)
	return &Registered{User: u, VerificationToken: token}, nil
}

// CreateInput is an account created by an administrator.
type CreateInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Create adds a verified, active account holding the named role. It can log
// in immediately. actorID is the administrator creating it.
func (s *UserService) Create(ctx context.Context, actorID int64, in CreateInput) (*entity.User, error) {
	email, username, name, ok := normalizeAccount(in.Email, in.Username, in.Name, in.Password)
	roleName := strings.TrimSpace(in.Role)
	if !ok || roleName == "" {
		return nil, ErrInvalidInput
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &entity.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Name:         name,
		IsActive:     true,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		taken, err := s.repo.ExistsByEmailOrUsername(ctx, tx, email, username)
		if err != nil {
			return err
		}
		if taken {
			return ErrConflict
		}
		r, err := s.roles.GetByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		_, err = s.repo.Create(ctx, tx, u, []int64{r.ID})
		if database.IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("user created", "user_id", u.ID, "role", roleName, "by", actorID)
	return u, nil
}

func normalizeAccount(email, username, name, password string) (string, string, string, bool) {
	email = auth.NormalizeEmail(email)
	username = strings.TrimSpace(username)
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil || username == "" || name == "" || len(password) < minPasswordLen {
		return "", "", "", false
	}
	return email, username, name, true
}

// VerifyEmail marks the account holding token as verified.
func (s *UserService) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	u, err := s.repo.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return err
	}
	if err := s.repo.MarkVerified(ctx, u.ID, s.now()); err != nil {
		return err
	}
	s.logger.Infow("email verified", "user_id", u.ID)
	return nil
}

// SetActive enables or disables an account. Disabling also ends its sessions.
// actorID is the administrator performing the change.
func (s *UserService) SetActive(ctx context.Context, actorID, userID int64, active bool) error {
	if !active && actorID == userID {
		return ErrSelfModification
	}
	n, err := s.repo.SetActive(ctx, userID, active, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	if !active && s.sessions != nil {
		if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
			return err
		}
	}
	s.logger.Infow("user status changed", "user_id", userID, "active", active, "by", actorID)
	return nil
}

// AssignRoles replaces the user's roles in one transaction.
func (s *UserService) AssignRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	ids := role.Dedupe(roleIDs)
	if len(ids) == 0 {
		return ErrInvalidInput
	}
	return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), userID); err != nil {
			return err
		}
		if exists == 0 {
			return ErrUserNotFound
		}
		if err := s.roles.CheckRolesExist(ctx, tx, ids); err != nil {
			return err
		}
		return userrepo.ReplaceRoles(ctx, tx, userID, ids)
	})
}

// Delete removes a user. Sessions and pending logins cascade; the attempt
// ledger keeps its rows with user_id cleared.
func (s *UserService) Delete(ctx context.Context, actorID, userID int64) error {
	if actorID == userID {
		return ErrSelfModification
	}
	n, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	s.logger.Infow("user deleted", "user_id", userID, "by", actorID)
	return nil
}
