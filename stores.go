package lmsauth

import (
	"errors"
	"time"
)

// Store errors. Implementations must return these (possibly wrapped) so
// handlers can map them to responses.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrTokenNotFound     = errors.New("token not found")
	ErrTokenReused       = errors.New("refresh token reused")
	ErrTokenExpired      = errors.New("token expired")
	ErrResetCodeNotFound = errors.New("reset code not found")
)

// Role distinguishes the two kinds of accounts that can sign up.
type Role string

const (
	RoleStudent Role = "student"
	RoleDriver  Role = "driver"
)

// User is an LMS account
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	ClassID      string    `json:"class_id,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserStore manages LMS accounts
type UserStore interface {
	// CreateUser returns ErrUserExists if the username or email is taken
	CreateUser(user *User) error

	// GetUserByUsername returns ErrUserNotFound if there is no such user
	GetUserByUsername(username string) (*User, error)

	// GetUserByEmail returns ErrUserNotFound if there is no such user
	GetUserByEmail(email string) (*User, error)

	// UpdatePassword replaces the password hash
	UpdatePassword(userID, passwordHash string) error
}

// RefreshToken is the server-side record of an issued refresh JWT.
type RefreshToken struct {
	ID         string    `json:"id"` // the JWT's jti
	Family     string    `json:"family"`
	Generation int       `json:"generation"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	RevokedAt  time.Time `json:"revoked_at,omitempty"`
}

// IsExpired checks if the token has expired
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RefreshTokenStore tracks refresh token rotation
type RefreshTokenStore interface {
	// CreateRefreshToken records a newly issued token
	CreateRefreshToken(token *RefreshToken) error

	// GetRefreshToken returns ErrTokenNotFound for unknown ids
	GetRefreshToken(id string) (*RefreshToken, error)

	// RotateRefreshToken atomically revokes oldID and records next.
	// Returns ErrTokenReused if oldID was already revoked and
	// ErrTokenExpired if it expired before next.CreatedAt.
	RotateRefreshToken(oldID string, next *RefreshToken) error

	// RevokeTokenFamily revokes all tokens in a family (theft detection)
	RevokeTokenFamily(family string) error

	// RevokeUserTokens revokes all refresh tokens for a user
	RevokeUserTokens(username string) error

	// CleanupExpiredTokens removes expired tokens (for maintenance)
	CleanupExpiredTokens() error
}

// ResetCode is a pending password reset for an email address.
type ResetCode struct {
	Email     string    `json:"email"`
	CodeHash  string    `json:"code_hash"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks if the code has expired
func (c *ResetCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ResetCodeStore holds at most one pending code per email
type ResetCodeStore interface {
	// SaveResetCode creates or replaces the code for code.Email
	SaveResetCode(code *ResetCode) error

	// GetResetCode returns ErrResetCodeNotFound if there is none
	GetResetCode(email string) (*ResetCode, error)

	// DeleteResetCode is a no-op if there is none
	DeleteResetCode(email string) error
}
