package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const sessionTokenBytes = 32

// NewOTPCode generates a fixed-length numeric one-time code from the
// cryptographically secure random source. Each digit is drawn
// independently so the code is uniform over the full digit space.
func NewOTPCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// NewSessionToken returns an opaque, unpredictable session token encoded
// as unpadded base64url.
func NewSessionToken() (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken derives the storage key for a session token. Only the hash is
// ever persisted; the raw token stays with the client.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// HashCode hashes an OTP code for challenge storage.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// ConstantTimeEqual compares two hashes without leaking the position of
// the first differing byte.
func ConstantTimeEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
