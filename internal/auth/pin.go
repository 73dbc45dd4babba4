package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// PINLength is the number of digits in an activation PIN.
const PINLength = 6

var pinSpace = big.NewInt(1_000_000)

// GeneratePIN returns a uniformly random zero-padded 6-digit PIN.
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, pinSpace)
	if err != nil {
		return "", fmt.Errorf("generating pin: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ValidPINFormat reports whether pin is exactly six ASCII digits.
func ValidPINFormat(pin string) bool {
	if len(pin) != PINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// SecretEqual compares two secrets in constant time.
func SecretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
