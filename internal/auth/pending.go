package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

// PendingRepository is the persistence contract of the pending-auth store.
// Take must remove and return the row in one atomic step, returning
// sql.ErrNoRows when there is nothing to take.
type PendingRepository interface {
	Insert(ctx context.Context, p *entity.PendingAuth) error
	Take(ctx context.Context, token string) (*entity.PendingAuth, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PendingStore holds the short-lived tokens between password and 2FA verification.
type PendingStore struct {
	repo PendingRepository
	now  func() time.Time
}

func NewPendingStore(r PendingRepository, now func() time.Time) *PendingStore {
	if now == nil {
		now = utcNow
	}
	return &PendingStore{repo: r, now: now}
}

// Create stores a pending-auth row for userID and returns its token.
func (s *PendingStore) Create(ctx context.Context, userID int64, ip, userAgent string) (string, error) {
	token, err := utilities.NewToken(tokenBytes)
	if err != nil {
		return "", err
	}
	now := s.now()
	p := &entity.PendingAuth{
		ID:        utilities.NewKSUID(),
		Token:     token,
		UserID:    userID,
		IPAddress: ip,
		UserAgent: optional(userAgent),
		ExpiresAt: now.Add(PendingTTL),
		CreatedAt: now,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return "", storeErr("create pending auth", err)
	}
	return token, nil
}

// Consume takes the token out of the store. Only one caller can ever receive a
// given row; an expired row is already gone once this returns the error.
func (s *PendingStore) Consume(ctx context.Context, token string) (*entity.PendingAuth, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	p, err := s.repo.Take(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, storeErr("consume pending auth", err)
	}
	if p.Expired(s.now()) {
		return nil, ErrInvalidOrExpiredToken
	}
	return p, nil
}

// PurgeExpired removes pending rows past expiry.
func (s *PendingStore) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, storeErr("purge pending auths", err)
	}
	return int(n), nil
}
