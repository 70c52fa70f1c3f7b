package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// DefaultResetPIN is assigned by an administrative PIN reset when no PIN is supplied.
const DefaultResetPIN = "0000"

// HashPIN returns the lowercase hex SHA-256 digest of the PIN's UTF-8 bytes.
// Provisioned rows store the same digest, so the algorithm must not change.
func HashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// PINMatches compares a PIN against a stored digest in constant time.
func PINMatches(pin, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashPIN(pin)), []byte(digest)) == 1
}

// ValidateNewAccountPIN checks the four-digit format required when provisioning an account.
func ValidateNewAccountPIN(pin string) error {
	if len(pin) != 4 {
		return ErrInvalidPINFormat
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPINFormat
		}
	}
	return nil
}
