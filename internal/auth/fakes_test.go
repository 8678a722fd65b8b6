package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
	roleentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/entity"
	userentity "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/entity"
)

const testSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[int64]*userentity.User
	err     error
	touched map[int64]time.Time
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int64]*userentity.User{}, touched: map[int64]time.Time{}}
}

func (f *fakeUsers) add(u *userentity.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.ID] = u
}

func (f *fakeUsers) get(id int64) userentity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byID[id]
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*userentity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUsers) GetByID(ctx context.Context, id int64) (*userentity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	if u, ok := f.byID[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (f *fakeUsers) SetTwoFactor(ctx context.Context, id int64, enabled bool, secret *string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil
	}
	u.TwoFactorEnabled = enabled
	if secret != nil {
		s := *secret
		u.TwoFactorSecret = &s
	} else {
		u.TwoFactorSecret = nil
	}
	u.UpdatedAt = at
	return nil
}

type fakeRoles struct {
	byUser map[int64][]roleentity.RoleWithPermissions
}

func (f *fakeRoles) ListForUser(ctx context.Context, userID int64) ([]roleentity.RoleWithPermissions, error) {
	return f.byUser[userID], nil
}

type fakeSettings struct {
	force bool
	err   error
}

func (f *fakeSettings) ForceTwoFactor(ctx context.Context) (bool, error) {
	return f.force, f.err
}

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]*entity.Session
}

func newFakeSessions() *fakeSessions { return &fakeSessions{rows: map[string]*entity.Session{}} }

func (f *fakeSessions) Insert(ctx context.Context, s *entity.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSessions) GetByToken(ctx context.Context, token string) (*entity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.Token == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSessions) DeleteByID(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeSessions) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.rows {
		if s.UserID == userID {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.rows {
		if s.Expired(now) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakePending struct {
	mu   sync.Mutex
	rows map[string]*entity.PendingAuth
}

func newFakePending() *fakePending { return &fakePending{rows: map[string]*entity.PendingAuth{}} }

func (f *fakePending) Insert(ctx context.Context, p *entity.PendingAuth) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows[p.Token] = &cp
	return nil
}

func (f *fakePending) Take(ctx context.Context, token string) (*entity.PendingAuth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(f.rows, token)
	return p, nil
}

func (f *fakePending) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, p := range f.rows {
		if p.Expired(now) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakePending) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeAttempts struct {
	mu   sync.Mutex
	rows []entity.LoginAttempt
	err  error
}

func (f *fakeAttempts) Insert(ctx context.Context, a *entity.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, *a)
	return nil
}

func (f *fakeAttempts) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.rows {
		if a.Email == email && !a.Success && !a.AttemptedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttempts) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	var n int64
	for _, a := range f.rows {
		if a.AttemptedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	f.rows = kept
	return n, nil
}

func (f *fakeAttempts) all() []entity.LoginAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.LoginAttempt(nil), f.rows...)
}

// countingHasher records how often Verify runs.
type countingHasher struct {
	*BcryptHasher
	mu       sync.Mutex
	verifies int
}

func (h *countingHasher) Verify(hash, pw string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.BcryptHasher.Verify(hash, pw)
}

func (h *countingHasher) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifies
}

type harness struct {
	svc      *Service
	clock    *fakeClock
	users    *fakeUsers
	roles    *fakeRoles
	settings *fakeSettings
	sessions *fakeSessions
	pending  *fakePending
	attempts *fakeAttempts
	hasher   *countingHasher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    newClock(),
		users:    newFakeUsers(),
		roles:    &fakeRoles{byUser: map[int64][]roleentity.RoleWithPermissions{}},
		settings: &fakeSettings{},
		sessions: newFakeSessions(),
		pending:  newFakePending(),
		attempts: &fakeAttempts{},
		hasher:   &countingHasher{BcryptHasher: NewBcryptHasher(bcrypt.MinCost)},
	}
	h.svc = NewService(Deps{
		Users:    h.users,
		Roles:    h.roles,
		Settings: h.settings,
		Sessions: h.sessions,
		Pending:  h.pending,
		Attempts: h.attempts,
		Hasher:   h.hasher,
		Now:      h.clock.Now,
	}, DefaultConfig(), nil)
	return h
}

// addUser stores an active, verified user with password "password123".
func (h *harness) addUser(t *testing.T, id int64, email string, mutate ...func(u *userentity.User)) *userentity.User {
	t.Helper()
	hash, err := h.hasher.Hash("password123")
	require.NoError(t, err)
	u := &userentity.User{
		ID:           id,
		Email:        email,
		Username:     email,
		PasswordHash: hash,
		Name:         "Test User",
		IsActive:     true,
		IsVerified:   true,
		CreatedAt:    h.clock.Now(),
		UpdatedAt:    h.clock.Now(),
	}
	for _, m := range mutate {
		m(u)
	}
	h.users.add(u)
	return u
}

func withTwoFactor(u *userentity.User) {
	s := testSecret
	u.TwoFactorEnabled = true
	u.TwoFactorSecret = &s
}
