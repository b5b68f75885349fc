package lmsauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Default expiry durations
const (
	TokenExpiryAccessToken  = 15 * time.Minute
	TokenExpiryRefreshToken = 7 * 24 * time.Hour
	ResetCodeExpiry         = 15 * time.Minute
	ResetCodeMaxAttempts    = 5
	resetCodeDigits         = 6
)

// JWT "type" claim values
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// GenerateResetCode returns a uniformly random six-digit code
func GenerateResetCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", resetCodeDigits, n.Int64()), nil
}

// HashResetCode hashes a code for storage
func HashResetCode(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

// matchResetCode compares in constant time
func matchResetCode(stored *ResetCode, code string) bool {
	want := HashResetCode(stored.Email, code)
	return subtle.ConstantTimeCompare([]byte(want), []byte(stored.CodeHash)) == 1
}
