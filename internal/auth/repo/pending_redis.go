package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
)

const pendingKeyPrefix = "pending_auth:"

// RedisPendingRepo keeps pending-auth tokens in Redis with a native TTL.
type RedisPendingRepo struct {
	client *redis.Client
}

func NewRedisPendingRepo(client *redis.Client) *RedisPendingRepo {
	return &RedisPendingRepo{client: client}
}

// NewRedisClientFromURL parses redisURL and checks connectivity.
func NewRedisClientFromURL(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisPendingRepo) Insert(ctx context.Context, p *entity.PendingAuth) error {
	ttl := p.ExpiresAt.Sub(p.CreatedAt)
	if ttl <= 0 {
		return errors.New("pending auth already expired")
	}
	b, err := json.Marshal(pendingRecord{
		ID:        p.ID,
		UserID:    p.UserID,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, pendingKeyPrefix+p.Token, b, ttl).Err()
}

// Take uses GETDEL so only one caller can receive the record.
// A missing key is reported as sql.ErrNoRows like the SQL repo.
func (r *RedisPendingRepo) Take(ctx context.Context, token string) (*entity.PendingAuth, error) {
	raw, err := r.client.GetDel(ctx, pendingKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	var rec pendingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode pending auth: %w", err)
	}
	return &entity.PendingAuth{
		ID:        rec.ID,
		Token:     token,
		UserID:    rec.UserID,
		IPAddress: rec.IPAddress,
		UserAgent: rec.UserAgent,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// DeleteExpired is a no-op; Redis expires the keys itself.
func (r *RedisPendingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type pendingRecord struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent *string   `json:"user_agent,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
