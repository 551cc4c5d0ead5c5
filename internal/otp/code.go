package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// CodeDigits is the length of a passcode.
const CodeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly distributed 6-digit numeric code drawn
// from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// HashCode binds a code to the identity it was issued for. Only the hash is
// stored.
func HashCode(identityID, code string) string {
	h := sha256.Sum256([]byte(identityID + ":" + code))
	return hex.EncodeToString(h[:])
}

// WellFormed reports whether code is exactly six ASCII digits.
func WellFormed(code string) bool {
	if len(code) != CodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
