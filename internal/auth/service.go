package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
	roleentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/entity"
	userentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/entity"
)

// UserStore is the part of the user repository the auth flows need.
// Lookups return sql.ErrNoRows when the user does not exist.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*userentity.User, error)
	GetByID(ctx context.Context, id int64) (*userentity.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	SetTwoFactor(ctx context.Context, id int64, enabled bool, secret *string, at time.Time) error
}

// RoleLoader loads a user's roles with their permissions.
type RoleLoader interface {
	ListForUser(ctx context.Context, userID int64) ([]roleentity.RoleWithPermissions, error)
}

// SettingReader exposes the global force-2FA toggle.
type SettingReader interface {
	ForceTwoFactor(ctx context.Context) (bool, error)
}

// Deps are the collaborators of Service. Hasher, Metrics and Now are optional.
type Deps struct {
	Users    UserStore
	Roles    RoleLoader
	Settings SettingReader
	Sessions SessionRepository
	Pending  PendingRepository
	Attempts AttemptRepository
	Hasher   PasswordHasher
	Metrics  *Metrics
	Now      func() time.Time
}

// Service orchestrates login, 2FA verification and session lifecycle.
type Service struct {
	users    UserStore
	roles    RoleLoader
	settings SettingReader
	sessions *SessionStore
	pending  *PendingStore
	ledger   *Ledger
	hasher   PasswordHasher
	totp     *TOTP
	metrics  *Metrics
	cfg      Config
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewService(d Deps, cfg Config, logger *zap.SugaredLogger) *Service {
	now := d.Now
	if now == nil {
		now = utcNow
	}
	hasher := d.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(cfg.BcryptCost)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = defaultLockoutWindow
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	engine := NewTOTP(cfg.Issuer, cfg.TOTPWindow)
	engine.now = now
	return &Service{
		users:    d.Users,
		roles:    d.Roles,
		settings: d.Settings,
		sessions: NewSessionStore(d.Sessions, cfg.SessionTTL, now),
		pending:  NewPendingStore(d.Pending, now),
		ledger:   NewLedger(d.Attempts, now),
		hasher:   hasher,
		totp:     engine,
		metrics:  d.Metrics,
		cfg:      cfg,
		logger:   logger,
		now:      now,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Hasher returns the password hasher used for credentials.
func (s *Service) Hasher() PasswordHasher { return s.hasher }

// LoginInput carries the credentials and request metadata of a login.
type LoginInput struct {
	Email         string
	Password      string
	TwoFactorCode string
	IPAddress     string
	UserAgent     string
}

// LoginResult is either a full login (Session set) or a pending 2FA step (PendingToken set).
type LoginResult struct {
	User          AuthenticatedUser
	Session       *entity.Session
	PendingToken  string
	RequiresSetup bool
}

// Pending reports whether the caller must still submit a 2FA code.
func (r *LoginResult) Pending() bool { return r.PendingToken != "" }

// VerifyInput carries the second login step.
type VerifyInput struct {
	PendingToken string
	Code         string
	IPAddress    string
	UserAgent    string
}

// NormalizeEmail trims and lower-cases an address for lookups and ledger keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login checks credentials in a fixed order: existence, active, verified,
// lockout, password, then 2FA. Every outcome is written to the ledger.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := NormalizeEmail(in.Email)
	att := Attempt{Email: email, IPAddress: in.IPAddress, UserAgent: in.UserAgent}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, storeErr("load user", err)
		}
		if b, ok := s.hasher.(burner); ok {
			b.Burn(in.Password)
		}
		return nil, s.reject(ctx, att, reasonUnknownUser, ErrInvalidCredentials)
	}
	att.UserID = &u.ID

	if !u.IsActive {
		return nil, s.reject(ctx, att, reasonDisabled, ErrAccountDisabled)
	}
	if !u.IsVerified {
		return nil, s.reject(ctx, att, reasonNotVerified, ErrAccountNotVerified)
	}

	failures, err := s.ledger.CountRecentFailures(ctx, email, s.cfg.LockoutWindow)
	if err != nil {
		return nil, err
	}
	if failures >= s.cfg.MaxAttempts {
		return nil, s.reject(ctx, att, reasonLocked, ErrAccountLocked)
	}

	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		return nil, s.reject(ctx, att, reasonBadPassword, ErrInvalidCredentials)
	}

	if u.TwoFactorEnabled {
		if !u.HasTwoFactorSecret() {
			return nil, s.reject(ctx, att, reasonNo2FASecret, ErrTwoFactorNotConfigured)
		}
		code := strings.TrimSpace(in.TwoFactorCode)
		if code == "" {
			return s.beginPending(ctx, u, att)
		}
		if !s.totp.Verify(*u.TwoFactorSecret, code) {
			return nil, s.reject(ctx, att, reasonBad2FA, ErrInvalid2FACode)
		}
	}
	return s.complete(ctx, u, att)
}

// VerifyPendingLogin finishes a login that stopped for 2FA. The pending token
// is consumed before the code is checked, so a wrong code means starting over.
func (s *Service) VerifyPendingLogin(ctx context.Context, in VerifyInput) (*LoginResult, error) {
	p, err := s.pending.Consume(ctx, in.PendingToken)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			s.metrics.twoFactor("verify", "expired")
		}
		return nil, err
	}
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, storeErr("load user", err)
	}
	att := Attempt{Email: NormalizeEmail(u.Email), IPAddress: in.IPAddress, UserAgent: in.UserAgent, UserID: &u.ID}

	if !u.IsActive {
		return nil, s.reject(ctx, att, reasonDisabled, ErrAccountDisabled)
	}
	if !u.HasTwoFactorSecret() {
		return nil, s.reject(ctx, att, reasonNo2FASecret, ErrTwoFactorNotConfigured)
	}
	if !s.totp.Verify(*u.TwoFactorSecret, in.Code) {
		s.metrics.twoFactor("verify", "invalid")
		return nil, s.reject(ctx, att, reasonBad2FAPending, ErrInvalid2FACode)
	}
	s.metrics.twoFactor("verify", "ok")
	return s.complete(ctx, u, att)
}

func (s *Service) beginPending(ctx context.Context, u *userentity.User, att Attempt) (*LoginResult, error) {
	token, err := s.pending.Create(ctx, u.ID, att.IPAddress, att.UserAgent)
	if err != nil {
		return nil, err
	}
	att.Success = true
	if err := s.ledger.Record(ctx, att); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, u)
	if err != nil {
		return nil, err
	}
	s.metrics.login("pending_2fa")
	s.logger.Infow("login awaiting 2fa", "user_id", u.ID, "ip", att.IPAddress)
	return &LoginResult{User: snap, PendingToken: token}, nil
}

// complete issues the session for a fully verified user.
func (s *Service) complete(ctx context.Context, u *userentity.User, att Attempt) (*LoginResult, error) {
	force, err := s.forceTwoFactor(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, u.ID, att.IPAddress, att.UserAgent)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, storeErr("touch last login", err)
	}
	u.LastLoginAt = &now
	att.Success = true
	if err := s.ledger.Record(ctx, att); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, u)
	if err != nil {
		return nil, err
	}
	s.metrics.login("success")
	s.metrics.sessionIssued()
	s.logger.Infow("login succeeded", "user_id", u.ID, "ip", att.IPAddress)
	return &LoginResult{
		User:          snap,
		Session:       sess,
		RequiresSetup: !u.TwoFactorEnabled && force,
	}, nil
}

// reject records a failed attempt and returns domainErr, unless the ledger
// write itself failed.
func (s *Service) reject(ctx context.Context, att Attempt, reason string, domainErr error) error {
	att.Success = false
	att.Reason = reason
	if err := s.ledger.Record(ctx, att); err != nil {
		return err
	}
	s.metrics.login(outcomeLabel(domainErr))
	s.logger.Infow("login rejected", "email", att.Email, "ip", att.IPAddress, "reason", reason)
	return domainErr
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, ErrAccountNotVerified):
		return "not_verified"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	case errors.Is(err, ErrInvalid2FACode):
		return "invalid_2fa"
	case errors.Is(err, ErrTwoFactorNotConfigured):
		return "2fa_not_configured"
	default:
		return "invalid_credentials"
	}
}

func (s *Service) snapshot(ctx context.Context, u *userentity.User) (AuthenticatedUser, error) {
	roles, err := s.roles.ListForUser(ctx, u.ID)
	if err != nil {
		return AuthenticatedUser{}, storeErr("load roles", err)
	}
	return NewAuthenticatedUser(u, roles), nil
}

func (s *Service) forceTwoFactor(ctx context.Context) (bool, error) {
	if s.settings == nil {
		return false, nil
	}
	on, err := s.settings.ForceTwoFactor(ctx)
	if err != nil {
		return false, storeErr("read force_two_factor", err)
	}
	return on, nil
}

// ForceTwoFactor reports the global enrollment requirement.
func (s *Service) ForceTwoFactor(ctx context.Context) (bool, error) {
	return s.forceTwoFactor(ctx)
}

// UserBySession resolves a session token to its user snapshot. Unknown or
// expired tokens, deleted users and disabled users all resolve to nil.
func (s *Service) UserBySession(ctx context.Context, token string) (*AuthenticatedUser, *entity.Session, error) {
	sess, err := s.sessions.FindByToken(ctx, token)
	if err != nil || sess == nil {
		return nil, nil, err
	}
	u, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, s.sessions.Revoke(ctx, sess.ID)
		}
		return nil, nil, storeErr("load user", err)
	}
	if !u.IsActive {
		return nil, nil, nil
	}
	snap, err := s.snapshot(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return &snap, sess, nil
}

// Logout revokes the session identified by token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.FindByToken(ctx, token)
	if err != nil || sess == nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		return err
	}
	s.metrics.sessionsRevoked(1)
	s.logger.Infow("logout", "user_id", sess.UserID)
	return nil
}

// RevokeSession deletes a session by id.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.metrics.sessionsRevoked(1)
	return nil
}

// RevokeUserSessions deletes every session of userID.
func (s *Service) RevokeUserSessions(ctx context.Context, userID int64) error {
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.metrics.sessionsRevoked(n)
	s.logger.Infow("user sessions revoked", "user_id", userID, "count", n)
	return nil
}

// Setup2FA generates a new secret for the user. The secret is returned to the
// caller and only stored by Enable2FA once a code for it has been verified.
func (s *Service) Setup2FA(ctx context.Context, userID int64, hostname string) (*TwoFactorSecret, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	label := u.Email
	if hostname != "" {
		label = hostname + ":" + u.Email
	}
	sec, err := s.totp.GenerateSecret(label)
	if err != nil {
		return nil, err
	}
	s.metrics.twoFactor("setup", "ok")
	s.logger.Infow("2fa setup generated", "user_id", u.ID)
	return sec, nil
}

// Enable2FA stores secret and turns 2FA on if code is valid for secret.
// A wrong code leaves the user untouched.
func (s *Service) Enable2FA(ctx context.Context, userID int64, secret, code string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	secret = strings.ToUpper(strings.TrimSpace(secret))
	if !s.totp.Verify(secret, code) {
		s.metrics.twoFactor("enable", "invalid")
		return ErrInvalid2FACode
	}
	if err := s.users.SetTwoFactor(ctx, u.ID, true, &secret, s.now()); err != nil {
		return storeErr("enable 2fa", err)
	}
	s.metrics.twoFactor("enable", "ok")
	s.logger.Infow("2fa enabled", "user_id", u.ID)
	return nil
}

// Disable2FA clears the flag and the secret in one update after checking a current code.
func (s *Service) Disable2FA(ctx context.Context, userID int64, code string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if !u.HasTwoFactorSecret() {
		return ErrTwoFactorNotConfigured
	}
	if !s.totp.Verify(*u.TwoFactorSecret, code) {
		s.metrics.twoFactor("disable", "invalid")
		return ErrInvalid2FACode
	}
	if err := s.users.SetTwoFactor(ctx, u.ID, false, nil, s.now()); err != nil {
		return storeErr("disable 2fa", err)
	}
	s.metrics.twoFactor("disable", "ok")
	s.logger.Infow("2fa disabled", "user_id", u.ID)
	return nil
}

func (s *Service) loadUser(ctx context.Context, id int64) (*userentity.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr("load user", err)
	}
	return u, nil
}

// PurgeExpired removes expired sessions and pending tokens.
func (s *Service) PurgeExpired(ctx context.Context) (sessions, pending int, err error) {
	if sessions, err = s.sessions.PurgeExpired(ctx); err != nil {
		return 0, 0, err
	}
	if pending, err = s.pending.PurgeExpired(ctx); err != nil {
		return sessions, 0, err
	}
	return sessions, pending, nil
}

// PurgeAttempts deletes ledger rows older than before.
func (s *Service) PurgeAttempts(ctx context.Context, before time.Time) (int, error) {
	return s.ledger.Purge(ctx, before)
}
