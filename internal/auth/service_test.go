package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	roleentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/entity"
	userentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/entity"
)

func code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	c, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return c
}

// wrongCode returns a six digit code that is not valid around at.
func wrongCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-90 * time.Second, -60 * time.Second, -30 * time.Second, 0, 30 * time.Second, 60 * time.Second, 90 * time.Second} {
		valid[code(t, secret, at.Add(d))] = true
	}
	for _, c := range []string{"123456", "654321", "111111", "999999"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

func login(h *harness, email, password, twoFactor string) (*LoginResult, error) {
	return h.svc.Login(context.Background(), LoginInput{
		Email: email, Password: password, TwoFactorCode: twoFactor,
		IPAddress: "10.0.0.1", UserAgent: "test-agent",
	})
}

func TestLogin_SucceedsWithoutTwoFactor(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "admin@example.com")
	h.roles.byUser[1] = []roleentity.RoleWithPermissions{{
		Role:        roleentity.Role{ID: 1, Name: "admin"},
		Permissions: []roleentity.Permission{{Resource: "users", Action: "manage"}},
	}}

	res, err := login(h, "admin@example.com", "password123", "")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.False(t, res.Pending())
	assert.False(t, res.RequiresSetup)
	assert.NotEmpty(t, res.Session.Token)
	assert.NotEqual(t, res.Session.ID, res.Session.Token)
	assert.Equal(t, h.clock.Now().Add(7*24*time.Hour), res.Session.ExpiresAt)
	assert.Equal(t, "10.0.0.1", res.Session.IPAddress)
	assert.True(t, res.User.HasPermission("users", "manage"))
	require.NotNil(t, res.User.LastLoginAt)
	assert.Equal(t, h.clock.Now(), *res.User.LastLoginAt)

	rows := h.attempts.all()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
	assert.Nil(t, rows[0].FailureReason)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, int64(1), *rows[0].UserID)
	assert.Equal(t, 1, h.sessions.count())
}

func TestLogin_SessionTokensAreUnique(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		res, err := login(h, "a@example.com", "password123", "")
		require.NoError(t, err)
		require.False(t, seen[res.Session.Token], "token reused")
		seen[res.Session.Token] = true
	}
}

func TestLogin_EmailIsNormalized(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	_, err := login(h, "  A@Example.COM ", "password123", "")
	require.NoError(t, err)
}

func TestLogin_WrongPasswordRecordsOneFailure(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")

	_, err := login(h, "a@example.com", "wrong", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Invalid credentials", PublicMessage(err))

	rows := h.attempts.all()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	require.NotNil(t, rows[0].FailureReason)
	assert.Equal(t, reasonBadPassword, *rows[0].FailureReason)
	assert.Zero(t, h.sessions.count())
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	h := newHarness(t)
	_, err := login(h, "ghost@example.com", "whatever", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	rows := h.attempts.all()
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].UserID)
	assert.Equal(t, "ghost@example.com", rows[0].Email)
	assert.Equal(t, reasonUnknownUser, *rows[0].FailureReason)
}

func TestLogin_DisabledAndUnverified(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "off@example.com", func(u *userentity.User) { u.IsActive = false })
	h.addUser(t, 2, "new@example.com", func(u *userentity.User) { u.IsVerified = false })

	_, err := login(h, "off@example.com", "password123", "")
	require.ErrorIs(t, err, ErrAccountDisabled)
	assert.Equal(t, "Account is disabled", PublicMessage(err))

	_, err = login(h, "new@example.com", "password123", "")
	require.ErrorIs(t, err, ErrAccountNotVerified)
	// unverified is reported with the generic message
	assert.Equal(t, "Invalid credentials", PublicMessage(err))

	rows := h.attempts.all()
	require.Len(t, rows, 2)
	assert.Equal(t, reasonDisabled, *rows[0].FailureReason)
	assert.Equal(t, reasonNotVerified, *rows[1].FailureReason)
	assert.Zero(t, h.hasher.calls(), "password must not be checked for refused accounts")
}

func TestLogin_LockoutBeforePasswordCheck(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")

	for i := 0; i < 5; i++ {
		_, err := login(h, "a@example.com", "wrong", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		h.clock.Advance(time.Minute)
	}
	verifies := h.hasher.calls()

	_, err := login(h, "a@example.com", "password123", "")
	require.ErrorIs(t, err, ErrAccountLocked)
	assert.Equal(t, verifies, h.hasher.calls(), "lockout must short-circuit password verification")

	rows := h.attempts.all()
	require.Len(t, rows, 6)
	assert.False(t, rows[5].Success)
	assert.Equal(t, reasonLocked, *rows[5].FailureReason)
	assert.Zero(t, h.sessions.count())
}

func TestLogin_LockoutExpiresWithWindow(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	for i := 0; i < 5; i++ {
		_, _ = login(h, "a@example.com", "wrong", "")
	}
	_, err := login(h, "a@example.com", "password123", "")
	require.ErrorIs(t, err, ErrAccountLocked)

	h.clock.Advance(16 * time.Minute)
	res, err := login(h, "a@example.com", "password123", "")
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}

func TestLogin_PendingThenVerify(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 7, "2fa@example.com", withTwoFactor)

	res, err := login(h, "2fa@example.com", "password123", "")
	require.NoError(t, err)
	require.True(t, res.Pending())
	assert.Nil(t, res.Session)
	assert.Zero(t, h.sessions.count(), "no session before the second factor")
	assert.Equal(t, 1, h.pending.count())

	rows := h.attempts.all()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success, "correct password is a partial success")

	h.clock.Advance(40 * time.Second)
	done, err := h.svc.VerifyPendingLogin(context.Background(), VerifyInput{
		PendingToken: res.PendingToken,
		Code:         code(t, testSecret, h.clock.Now()),
		IPAddress:    "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, done.Session)
	assert.Equal(t, 1, h.sessions.count())
	assert.Zero(t, h.pending.count())
	assert.False(t, done.RequiresSetup)

	_, err = h.svc.VerifyPendingLogin(context.Background(), VerifyInput{
		PendingToken: res.PendingToken,
		Code:         code(t, testSecret, h.clock.Now()),
	})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.Equal(t, 1, h.sessions.count())
}

func TestLogin_InlineTwoFactorCode(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 7, "2fa@example.com", withTwoFactor)

	_, err := login(h, "2fa@example.com", "password123", wrongCode(t, testSecret, h.clock.Now()))
	require.ErrorIs(t, err, ErrInvalid2FACode)
	assert.Equal(t, reasonBad2FA, *h.attempts.all()[0].FailureReason)

	res, err := login(h, "2fa@example.com", "password123", code(t, testSecret, h.clock.Now()))
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
	assert.Zero(t, h.pending.count())
}

func TestLogin_TwoFactorWithoutSecret(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 7, "broken@example.com", func(u *userentity.User) { u.TwoFactorEnabled = true })
	_, err := login(h, "broken@example.com", "password123", "")
	require.ErrorIs(t, err, ErrTwoFactorNotConfigured)
}

func TestVerifyPendingLogin_ExpiredTokenIsDeleted(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 7, "2fa@example.com", withTwoFactor)
	res, err := login(h, "2fa@example.com", "password123", "")
	require.NoError(t, err)

	h.clock.Advance(5*time.Minute + time.Second)
	_, err = h.svc.VerifyPendingLogin(context.Background(), VerifyInput{
		PendingToken: res.PendingToken,
		Code:         code(t, testSecret, h.clock.Now()),
	})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.Zero(t, h.pending.count(), "expired token must be gone")
	assert.Zero(t, h.sessions.count())
}

func TestVerifyPendingLogin_WrongCodeBurnsToken(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 7, "2fa@example.com", withTwoFactor)
	res, err := login(h, "2fa@example.com", "password123", "")
	require.NoError(t, err)

	good := code(t, testSecret, h.clock.Now())
	bad := wrongCode(t, testSecret, h.clock.Now())
	_, err = h.svc.VerifyPendingLogin(context.Background(), VerifyInput{PendingToken: res.PendingToken, Code: bad})
	require.ErrorIs(t, err, ErrInvalid2FACode)

	rows := h.attempts.all()
	require.Len(t, rows, 2)
	assert.Equal(t, reasonBad2FAPending, *rows[1].FailureReason)

	_, err = h.svc.VerifyPendingLogin(context.Background(), VerifyInput{PendingToken: res.PendingToken, Code: good})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestVerifyPendingLogin_ConcurrentConsumeOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 7, "2fa@example.com", withTwoFactor)
	res, err := login(h, "2fa@example.com", "password123", "")
	require.NoError(t, err)
	c := code(t, testSecret, h.clock.Now())

	var ok, expired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.VerifyPendingLogin(context.Background(), VerifyInput{PendingToken: res.PendingToken, Code: c})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInvalidOrExpiredToken):
				expired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), expired.Load())
	assert.Equal(t, 1, h.sessions.count())
}

func TestLogin_RequiresSetupWhenForced(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "admin@example.com")

	res, err := login(h, "admin@example.com", "password123", "")
	require.NoError(t, err)
	assert.False(t, res.RequiresSetup)

	h.settings.force = true
	res, err = login(h, "admin@example.com", "password123", "")
	require.NoError(t, err)
	assert.True(t, res.RequiresSetup)
	assert.NotNil(t, res.Session)
}

func TestLogin_LedgerFailureIsInfrastructure(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	h.attempts.err = errors.New("disk full")

	_, err := login(h, "a@example.com", "wrong", "")
	require.Error(t, err)
	assert.True(t, IsInfrastructure(err))
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Service temporarily unavailable", PublicMessage(err))
}

func TestLogin_StoreFailureIsInfrastructure(t *testing.T) {
	h := newHarness(t)
	h.users.err = errors.New("connection refused")
	_, err := login(h, "a@example.com", "password123", "")
	require.Error(t, err)
	assert.True(t, IsInfrastructure(err))
	assert.Empty(t, h.attempts.all())
}

func TestSetup2FA_DoesNotPersistSecret(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")

	sec, err := h.svc.Setup2FA(context.Background(), 1, "dash.local")
	require.NoError(t, err)
	assert.NotEmpty(t, sec.Secret)
	assert.Contains(t, sec.OTPAuthURI, "otpauth://totp/")
	assert.Contains(t, sec.OTPAuthURI, "issuer=Qwik")
	assert.Contains(t, sec.QRCode, "data:image/png;base64,")

	u := h.users.get(1)
	assert.False(t, u.TwoFactorEnabled)
	assert.Nil(t, u.TwoFactorSecret)

	_, err = h.svc.Setup2FA(context.Background(), 99, "")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestEnable2FA(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	sec, err := h.svc.Setup2FA(context.Background(), 1, "")
	require.NoError(t, err)

	good := code(t, sec.Secret, h.clock.Now())
	bad := wrongCode(t, sec.Secret, h.clock.Now())
	err = h.svc.Enable2FA(context.Background(), 1, sec.Secret, bad)
	require.ErrorIs(t, err, ErrInvalid2FACode)
	u := h.users.get(1)
	assert.False(t, u.TwoFactorEnabled)
	assert.Nil(t, u.TwoFactorSecret, "wrong code must not touch the secret")

	require.NoError(t, h.svc.Enable2FA(context.Background(), 1, sec.Secret, good))
	u = h.users.get(1)
	assert.True(t, u.TwoFactorEnabled)
	require.NotNil(t, u.TwoFactorSecret)
	assert.Equal(t, sec.Secret, *u.TwoFactorSecret)
}

func TestDisable2FA(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "plain@example.com")
	h.addUser(t, 2, "2fa@example.com", withTwoFactor)

	err := h.svc.Disable2FA(context.Background(), 1, "000000")
	require.ErrorIs(t, err, ErrTwoFactorNotEnabled)

	good := code(t, testSecret, h.clock.Now())
	bad := wrongCode(t, testSecret, h.clock.Now())
	require.ErrorIs(t, h.svc.Disable2FA(context.Background(), 2, bad), ErrInvalid2FACode)
	assert.True(t, h.users.get(2).TwoFactorEnabled)

	require.NoError(t, h.svc.Disable2FA(context.Background(), 2, good))
	u := h.users.get(2)
	assert.False(t, u.TwoFactorEnabled)
	assert.Nil(t, u.TwoFactorSecret)
}

func TestUserBySession(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	res, err := login(h, "a@example.com", "password123", "")
	require.NoError(t, err)

	u, sess, err := h.svc.UserBySession(context.Background(), res.Session.Token)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, res.Session.ID, sess.ID)

	u, _, err = h.svc.UserBySession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, u)

	h.clock.Advance(7*24*time.Hour + time.Second)
	u, _, err = h.svc.UserBySession(context.Background(), res.Session.Token)
	require.NoError(t, err)
	assert.Nil(t, u, "expired session resolves to nobody")
	assert.Zero(t, h.sessions.count(), "expired session is deleted on lookup")
}

func TestUserBySession_DisabledUser(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	res, err := login(h, "a@example.com", "password123", "")
	require.NoError(t, err)

	h.users.mu.Lock()
	h.users.byID[1].IsActive = false
	h.users.mu.Unlock()

	u, _, err := h.svc.UserBySession(context.Background(), res.Session.Token)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	res, err := login(h, "a@example.com", "password123", "")
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(context.Background(), res.Session.Token))
	assert.Zero(t, h.sessions.count())
	require.NoError(t, h.svc.Logout(context.Background(), res.Session.Token), "logout is idempotent")
	require.NoError(t, h.svc.Logout(context.Background(), ""))
}

func TestRevokeUserSessions(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	h.addUser(t, 2, "b@example.com")
	for i := 0; i < 3; i++ {
		_, err := login(h, "a@example.com", "password123", "")
		require.NoError(t, err)
	}
	_, err := login(h, "b@example.com", "password123", "")
	require.NoError(t, err)

	require.NoError(t, h.svc.RevokeUserSessions(context.Background(), 1))
	assert.Equal(t, 1, h.sessions.count())
}

func TestPurge(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, 1, "a@example.com")
	h.addUser(t, 7, "2fa@example.com", withTwoFactor)
	_, err := login(h, "a@example.com", "password123", "")
	require.NoError(t, err)
	_, err = login(h, "2fa@example.com", "password123", "")
	require.NoError(t, err)

	h.clock.Advance(8 * 24 * time.Hour)
	sessions, pending, err := h.svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, pending)

	n, err := h.svc.PurgeAttempts(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, h.attempts.all())
}
