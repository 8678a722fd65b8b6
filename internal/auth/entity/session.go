package entity

import "time"

// Session is an authenticated credential issued after a full login.
// Token is the opaque bearer value carried by the client; ID never leaves the server.
type Session struct {
	ID        string    `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"-"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent *string   `db:"user_agent" json:"user_agent,omitempty"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the session is past expires_at at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// PendingAuth bridges "password verified" and "2FA verified".
type PendingAuth struct {
	ID        string    `db:"id" json:"id"`
	Token     string    `db:"token" json:"-"`
	UserID    int64     `db:"user_id" json:"user_id"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent *string   `db:"user_agent" json:"user_agent,omitempty"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the pending token is past expires_at at now.
func (p *PendingAuth) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
