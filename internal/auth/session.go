package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

const tokenBytes = 32

// SessionRepository is the persistence contract of the session store.
type SessionRepository interface {
	Insert(ctx context.Context, s *entity.Session) error
	GetByToken(ctx context.Context, token string) (*entity.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore issues, resolves and revokes sessions.
type SessionStore struct {
	repo SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewSessionStore(r SessionRepository, ttl time.Duration, now func() time.Time) *SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if now == nil {
		now = utcNow
	}
	return &SessionStore{repo: r, ttl: ttl, now: now}
}

// Create issues a session with a fresh opaque token.
func (s *SessionStore) Create(ctx context.Context, userID int64, ip, userAgent string) (*entity.Session, error) {
	token, err := utilities.NewToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &entity.Session{
		ID:        utilities.NewKSUID(),
		UserID:    userID,
		Token:     token,
		IPAddress: ip,
		UserAgent: optional(userAgent),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return nil, storeErr("create session", err)
	}
	return sess, nil
}

// FindByToken returns the live session for token, or nil when it is unknown or expired.
// An expired row is deleted before returning.
func (s *SessionStore) FindByToken(ctx context.Context, token string) (*entity.Session, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("find session", err)
	}
	if sess.Expired(s.now()) {
		if err := s.repo.DeleteByID(ctx, sess.ID); err != nil {
			return nil, storeErr("delete expired session", err)
		}
		return nil, nil
	}
	return sess, nil
}

// Revoke deletes the session. Unknown ids are not an error.
func (s *SessionStore) Revoke(ctx context.Context, sessionID string) error {
	return storeErr("revoke session", s.repo.DeleteByID(ctx, sessionID))
}

// RevokeAllForUser deletes every session of userID and returns how many were removed.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, storeErr("revoke user sessions", err)
	}
	return int(n), nil
}

// PurgeExpired removes sessions past expiry.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, storeErr("purge sessions", err)
	}
	return int(n), nil
}

func utcNow() time.Time { return time.Now().UTC() }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
