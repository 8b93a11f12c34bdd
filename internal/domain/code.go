package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeLength is the length of a quiz join code.
const CodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizeCode returns the canonical (uppercase) form of a join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code, once normalized, is a well-formed join code.
func ValidCode(code string) bool {
	code = NormalizeCode(code)
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			return false
		}
	}
	return true
}

// GenerateCode returns a random uppercase alphanumeric join code.
func GenerateCode() (string, error) {
	b := make([]byte, CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate quiz code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
