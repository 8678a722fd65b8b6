package setting

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/setting/repo"
)

// sentinel errors for common failure modes
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Service encapsulates business logic for settings and depends on a repo.
type Service struct {
	repo *repo.Repo
	now  func() time.Time
}

// NewService constructs a Service with the provided repository.
func NewService(r *repo.Repo) *Service {
	return &Service{repo: r, now: func() time.Time { return time.Now().UTC() }}
}

// List returns all settings.
func (s *Service) List(ctx context.Context) ([]*entity.Setting, error) {
	return s.repo.List(ctx)
}

// Get returns a setting by key.
func (s *Service) Get(ctx context.Context, key string) (*entity.Setting, error) {
	st, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return st, nil
}

// Set stores value under key.
func (s *Service) Set(ctx context.Context, key, value string) (*entity.Setting, error) {
	st := entity.NewSetting(key, value, s.now())
	if err := s.repo.Upsert(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ForceTwoFactor reports whether every user must enroll in 2FA.
// A missing row means disabled.
func (s *Service) ForceTwoFactor(ctx context.Context) (bool, error) {
	st, err := s.Get(ctx, entity.ForceTwoFactorKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return st.Value == "true", nil
}

// SetForceTwoFactor writes the toggle as "true" or "false".
func (s *Service) SetForceTwoFactor(ctx context.Context, on bool) error {
	_, err := s.Set(ctx, entity.ForceTwoFactorKey, strconv.FormatBool(on))
	return err
}
