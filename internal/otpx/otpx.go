// Package otpx validates and generates time-based one-time codes over the
// hex-encoded shared secrets the identity store holds: 30-second steps,
// six digits, SHA-1, and a ±1 step acceptance window.
package otpx

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Period is the TOTP time step in seconds.
const Period = 30

// Skew is the number of adjacent steps accepted on each side of now. A code
// from the previous or next step passes; anything at offset -60s or beyond
// does not.
const Skew = 1

var opts = totp.ValidateOpts{
	Period:    Period,
	Skew:      Skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Check reports whether code is valid for the hex secret at the current time.
func Check(code, hexSecret string) bool {
	return CheckAt(code, hexSecret, time.Now())
}

// CheckAt reports whether code is valid for the hex secret at time at. The
// explicit instant exists for tests and for deriving codes at controlled
// offsets; production callers use Check.
func CheckAt(code, hexSecret string, at time.Time) bool {
	secret, err := base32Secret(hexSecret)
	if err != nil {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, opts)
	return err == nil && ok
}

// GenerateAt returns the code valid for the hex secret at time at.
func GenerateAt(hexSecret string, at time.Time) (string, error) {
	secret, err := base32Secret(hexSecret)
	if err != nil {
		return "", err
	}
	code, err := totp.GenerateCodeCustom(secret, at, opts)
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// Generate returns the code valid for the hex secret right now.
func Generate(hexSecret string) (string, error) {
	return GenerateAt(hexSecret, time.Now())
}

// KeyURI builds the otpauth:// provisioning URI embedded in the QR code shown
// at invitation time. The secret goes in as stored.
func KeyURI(pseudo, issuer, hexSecret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&period=%d&digits=6&algorithm=SHA1&issuer=%s",
		url.PathEscape(issuer), url.PathEscape(pseudo),
		url.QueryEscape(hexSecret), Period, url.QueryEscape(issuer))
}

// base32Secret re-encodes a hex secret into the base32 form the otp library
// expects. The key bytes feeding the HMAC are identical either way.
func base32Secret(hexSecret string) (string, error) {
	raw, err := hex.DecodeString(hexSecret)
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}
