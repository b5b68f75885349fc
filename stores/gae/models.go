//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	lms "github.com/lmsapp/lmsauth"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	Email        string         `datastore:"email"`
	Phone        string         `datastore:"phone,noindex"`
	FullName     string         `datastore:"full_name,noindex"`
	ClassID      string         `datastore:"class_id"`
	Role         string         `datastore:"role"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *lms.User {
	return &lms.User{
		ID:           e.Key.Name,
		Username:     e.Username,
		Email:        e.Email,
		Phone:        e.Phone,
		FullName:     e.FullName,
		ClassID:      e.ClassID,
		Role:         lms.Role(e.Role),
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func UserToEntity(u *lms.User, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:          key,
		Username:     u.Username,
		Email:        u.Email,
		Phone:        u.Phone,
		FullName:     u.FullName,
		ClassID:      u.ClassID,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// IndexEntity reserves a username or email for a user.
// Key format: the username or lowercased email
type IndexEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	UserID string         `datastore:"user_id"`
}

// RefreshTokenEntity is the Datastore entity for refresh tokens
// Key format: the token's jti
type RefreshTokenEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	Family     string         `datastore:"family"`
	Generation int            `datastore:"generation,noindex"`
	Username   string         `datastore:"username"`
	CreatedAt  time.Time      `datastore:"created_at"`
	ExpiresAt  time.Time      `datastore:"expires_at"`
	Revoked    bool           `datastore:"revoked"`
	RevokedAt  time.Time      `datastore:"revoked_at,noindex"`
}

func (e *RefreshTokenEntity) ToRefreshToken() *lms.RefreshToken {
	return &lms.RefreshToken{
		ID:         e.Key.Name,
		Family:     e.Family,
		Generation: e.Generation,
		Username:   e.Username,
		CreatedAt:  e.CreatedAt,
		ExpiresAt:  e.ExpiresAt,
		Revoked:    e.Revoked,
		RevokedAt:  e.RevokedAt,
	}
}

func RefreshTokenToEntity(rt *lms.RefreshToken, key *datastore.Key) *RefreshTokenEntity {
	return &RefreshTokenEntity{
		Key:        key,
		Family:     rt.Family,
		Generation: rt.Generation,
		Username:   rt.Username,
		CreatedAt:  rt.CreatedAt,
		ExpiresAt:  rt.ExpiresAt,
		Revoked:    rt.Revoked,
		RevokedAt:  rt.RevokedAt,
	}
}

// ResetCodeEntity is the Datastore entity for password reset codes
// Key format: lowercased email
type ResetCodeEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	CodeHash  string         `datastore:"code_hash,noindex"`
	Attempts  int            `datastore:"attempts,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}

func (e *ResetCodeEntity) ToResetCode() *lms.ResetCode {
	return &lms.ResetCode{
		Email:     e.Key.Name,
		CodeHash:  e.CodeHash,
		Attempts:  e.Attempts,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}
