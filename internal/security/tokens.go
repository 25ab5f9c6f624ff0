// Package security holds the token, one-time code and secret handling used by
// claims, withdrawal verification and login.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

const (
	otpMin   = 100000
	otpRange = 900000
	// otpLimit is the largest multiple of otpRange that fits in a uint32;
	// draws at or above it are rejected so every code is equally likely.
	otpLimit = (1 << 32) / otpRange * otpRange
)

// GenerateToken returns 32 random bytes as lowercase hex.
func GenerateToken() (string, error) {
	b, err := randomBytes(tokenBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateURLSafeToken returns 32 random bytes as unpadded base64url, suitable for links.
func GenerateURLSafeToken() (string, error) {
	b, err := randomBytes(tokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest stored in place of a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken re-hashes token and compares it to storedHash in constant time.
func VerifyToken(token, storedHash string) bool {
	computed := HashToken(token)
	if len(computed) != len(storedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// GenerateOTPCode returns a uniformly distributed 6 digit code.
func GenerateOTPCode() (string, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		n := binary.BigEndian.Uint32(buf[:])
		if uint64(n) >= otpLimit {
			continue
		}
		return fmt.Sprintf("%06d", otpMin+n%otpRange), nil
	}
}

// MaskSensitiveData replaces all but the last visible characters with '*'.
// Values no longer than visible are masked entirely.
func MaskSensitiveData(value string, visible int) string {
	n := utf8.RuneCountInString(value)
	if visible < 0 {
		visible = 0
	}
	if n <= visible {
		return strings.Repeat("*", n)
	}
	runes := []rune(value)
	return strings.Repeat("*", n-visible) + string(runes[n-visible:])
}

// ExpiryAfter returns the deadline d after now.
func ExpiryAfter(now time.Time, d time.Duration) time.Time {
	return now.Add(d)
}

// ExpiryAfterDays returns the deadline the given number of days after now.
func ExpiryAfterDays(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, days)
}

// IsExpired treats a missing deadline as expired.
func IsExpired(deadline *time.Time, now time.Time) bool {
	if deadline == nil {
		return true
	}
	return now.After(*deadline)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
