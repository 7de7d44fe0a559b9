// Package codes generates and normalizes the one-time credentials used by
// the engine: fixed-length numeric OTPs and dash-formatted recovery codes.
package codes

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// recoveryAlphabet excludes characters that are easy to confuse when read
// aloud or transcribed: 0/O and 1/I.
const recoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewNumeric returns a uniformly random numeric code of the given length
// with a non-zero leading digit, e.g. 6 digits over [100000, 999999].
func NewNumeric(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	low := big.NewInt(1)
	for i := 1; i < digits; i++ {
		low.Mul(low, big.NewInt(10))
	}
	span := new(big.Int).Mul(low, big.NewInt(9))

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return n.Add(n, low).String(), nil
}

// NewRecoveryCode returns a random code of length characters drawn from the
// unambiguous alphabet, formatted with a dash after the fifth character.
func NewRecoveryCode(length int) (string, error) {
	if length < 8 {
		return "", errors.New("recovery code too short")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(recoveryAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(recoveryAlphabet[n.Int64()])
	}

	return FormatRecoveryCode(b.String()), nil
}

// FormatRecoveryCode inserts the display dash after the fifth character.
// Codes shorter than six characters are returned unchanged.
func FormatRecoveryCode(raw string) string {
	if len(raw) <= 5 {
		return raw
	}
	return raw[:5] + "-" + raw[5:]
}

// NormalizeRecoveryCode upper-cases user input, strips every
// non-alphanumeric character, and re-inserts the dash, so that
// "abcde fghjk" and "ABCDE-FGHJK" hash identically.
func NormalizeRecoveryCode(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ToUpper(input) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return FormatRecoveryCode(b.String())
}

// HashRecoveryCode returns the hex SHA-256 of a normalized code. Only this
// hash is ever persisted.
func HashRecoveryCode(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// IsNumeric reports whether s is non-empty and all ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
