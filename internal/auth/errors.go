package auth

import (
	"errors"
	"fmt"
)

// Domain errors returned by the auth flows. Handlers map them to status codes
// and PublicMessage maps them to user-facing text.
var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountDisabled        = errors.New("account is disabled")
	ErrAccountNotVerified     = errors.New("account not verified")
	ErrAccountLocked          = errors.New("account locked due to too many failed attempts")
	ErrInvalid2FACode         = errors.New("invalid two-factor code")
	ErrTwoFactorNotConfigured = errors.New("two-factor authentication is not properly configured")
	ErrTwoFactorNotEnabled    = errors.New("two-factor authentication is not enabled")
	ErrInvalidOrExpiredToken  = errors.New("invalid or expired authentication token")
	ErrUserNotFound           = errors.New("user not found")
	ErrPermissionDenied       = errors.New("permission denied")
)

// StoreError wraps a persistence failure so callers can tell an unavailable
// system apart from a refused request.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("auth store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsInfrastructure reports whether err came from the store rather than the domain.
func IsInfrastructure(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// PublicMessage returns text that is safe to show to the end user.
// Unknown email, wrong password and unverified account share one message;
// disabled and locked accounts are reported explicitly.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsInfrastructure(err):
		return "Service temporarily unavailable"
	case errors.Is(err, ErrAccountDisabled):
		return "Account is disabled"
	case errors.Is(err, ErrAccountLocked):
		return "Account locked due to too many failed attempts. Try again later."
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountNotVerified):
		return "Invalid credentials"
	case errors.Is(err, ErrInvalid2FACode):
		return "Invalid 2FA code"
	case errors.Is(err, ErrTwoFactorNotConfigured):
		return "2FA is not properly configured"
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return "2FA is not enabled"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "Session expired, please log in again"
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	case errors.Is(err, ErrPermissionDenied):
		return "Permission denied"
	default:
		return "Something went wrong"
	}
}
