package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTP_GenerateSecret(t *testing.T) {
	engine := NewTOTP("Qwik Dashboard", 2)
	sec, err := engine.GenerateSecret("dash.local:a@example.com")
	require.NoError(t, err)

	assert.Len(t, sec.Secret, 32, "20 random bytes in unpadded base32")
	assert.Equal(t, strings.ToUpper(sec.Secret), sec.Secret)
	assert.True(t, strings.HasPrefix(sec.OTPAuthURI, "otpauth://totp/"))
	assert.Contains(t, sec.OTPAuthURI, "secret="+sec.Secret)
	assert.Contains(t, sec.OTPAuthURI, "digits=6")
	assert.Contains(t, sec.OTPAuthURI, "period=30")
	assert.True(t, strings.HasPrefix(sec.QRCode, "data:image/png;base64,"))

	other, err := engine.GenerateSecret("dash.local:a@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, sec.Secret, other.Secret)
}

func TestTOTP_VerifyWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 15, 0, time.UTC)
	engine := NewTOTP("test", 2)
	engine.now = func() time.Time { return now }

	for _, tc := range []struct {
		name   string
		offset time.Duration
		ok     bool
	}{
		{"current step", 0, true},
		{"one step back", -30 * time.Second, true},
		{"two steps back", -60 * time.Second, true},
		{"two steps ahead", 60 * time.Second, true},
		{"three steps back", -90 * time.Second, false},
		{"three steps ahead", 90 * time.Second, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := totp.GenerateCode(testSecret, now.Add(tc.offset))
			require.NoError(t, err)
			assert.Equal(t, tc.ok, engine.Verify(testSecret, c))
		})
	}
}

func TestTOTP_VerifyRejectsMalformed(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 15, 0, time.UTC)
	engine := NewTOTP("test", 1)
	engine.now = func() time.Time { return now }
	good, err := totp.GenerateCode(testSecret, now)
	require.NoError(t, err)

	assert.True(t, engine.Verify(testSecret, " "+good+" "))
	assert.True(t, engine.Verify(testSecret, good[:3]+" "+good[3:]))
	assert.False(t, engine.Verify(testSecret, ""))
	assert.False(t, engine.Verify(testSecret, good[:5]))
	assert.False(t, engine.Verify(testSecret, good+"0"))
	assert.False(t, engine.Verify("", good))
	assert.False(t, engine.Verify("not base32!", good))
}

func TestNewTOTP_ClampsWindow(t *testing.T) {
	assert.Equal(t, uint(1), NewTOTP("x", 0).window)
	assert.Equal(t, uint(3), NewTOTP("x", 3).window)
}
