package auth

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod  = 30
	totpQRSize  = 200
	totpDigits  = otp.DigitsSix
	totpAlgo    = otp.AlgorithmSHA1
	totpSecretN = 20
)

// TwoFactorSecret is the result of generating a new TOTP secret.
type TwoFactorSecret struct {
	Secret     string `json:"secret"`
	OTPAuthURI string `json:"otpauth_uri"`
	QRCode     string `json:"qr_code"` // data:image/png;base64,...
}

// TOTP generates secrets and verifies codes within a bounded drift window.
type TOTP struct {
	issuer string
	window uint
	now    func() time.Time
}

// NewTOTP returns an engine accepting codes within ±window 30s steps.
func NewTOTP(issuer string, window int) *TOTP {
	if window < 1 {
		window = 1
	}
	return &TOTP{issuer: issuer, window: uint(window), now: time.Now}
}

// GenerateSecret creates a fresh base32 secret labelled accountLabel.
func (t *TOTP) GenerateSecret(accountLabel string) (*TwoFactorSecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountLabel,
		Period:      totpPeriod,
		SecretSize:  totpSecretN,
		Digits:      totpDigits,
		Algorithm:   totpAlgo,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}
	return &TwoFactorSecret{Secret: key.Secret(), OTPAuthURI: key.URL(), QRCode: qr}, nil
}

// Verify reports whether code is valid for secret at the current time.
// Malformed codes or secrets are simply invalid.
func (t *TOTP) Verify(secret, code string) bool {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if secret == "" || len(code) != totpDigits.Length() {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      t.window,
		Digits:    totpDigits,
		Algorithm: totpAlgo,
	})
	return err == nil && ok
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(totpQRSize, totpQRSize)
	if err != nil {
		return "", fmt.Errorf("render totp qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode totp qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
