package auth

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// PendingTTL is the lifetime of a pending-auth token. Not configurable.
	PendingTTL = 5 * time.Minute

	defaultBcryptCost    = 10
	defaultSessionTTL    = 7 * 24 * time.Hour
	defaultMaxAttempts   = 5
	defaultLockoutWindow = 15 * time.Minute
	defaultTOTPWindow    = 2
	defaultIssuer        = "Qwik Dashboard"
	defaultSessionCookie = "qwik-dashboard-session"
	defaultPendingCookie = "pending_auth"
)

// Config holds the knobs of the auth flows.
type Config struct {
	BcryptCost        int
	SessionTTL        time.Duration
	MaxAttempts       int
	LockoutWindow     time.Duration
	TOTPWindow        int
	Issuer            string
	SessionCookieName string
	PendingCookieName string
	CookieSecure      bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BcryptCost:        defaultBcryptCost,
		SessionTTL:        defaultSessionTTL,
		MaxAttempts:       defaultMaxAttempts,
		LockoutWindow:     defaultLockoutWindow,
		TOTPWindow:        defaultTOTPWindow,
		Issuer:            defaultIssuer,
		SessionCookieName: defaultSessionCookie,
		PendingCookieName: defaultPendingCookie,
	}
}

// ConfigFromEnv reads auth config from environment variables, falling back to defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.BcryptCost = envInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.SessionTTL = envDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.MaxAttempts = envInt("LOGIN_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.LockoutWindow = envDuration("LOGIN_LOCKOUT_WINDOW", cfg.LockoutWindow)
	cfg.TOTPWindow = envInt("TOTP_WINDOW", cfg.TOTPWindow)
	if cfg.TOTPWindow < 1 {
		cfg.TOTPWindow = 1
	}
	if v := strings.TrimSpace(os.Getenv("TWO_FACTOR_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_COOKIE_NAME")); v != "" {
		cfg.SessionCookieName = v
	}
	if v := strings.TrimSpace(os.Getenv("PENDING_COOKIE_NAME")); v != "" {
		cfg.PendingCookieName = v
	}
	cfg.CookieSecure = strings.EqualFold(os.Getenv("APP_ENV"), "production")
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	return cfg
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
