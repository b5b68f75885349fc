package lmsauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lmsapp/lmsauth/client"
)

// HashPassword hashes a password with bcrypt at the default cost
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// newUser builds a User from a validated signup payload
func newUser(req *client.SignupRequest, role Role, now time.Time) (*User, error) {
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:        req.Phone,
		FullName:     req.FullName,
		ClassID:      req.ClassID,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// lookupUser resolves a login name that may be a username or an email
func lookupUser(store UserStore, login string) (*User, error) {
	if DetectUsernameType(login) == "email" {
		return store.GetUserByEmail(strings.ToLower(strings.TrimSpace(login)))
	}
	return store.GetUserByUsername(login)
}
