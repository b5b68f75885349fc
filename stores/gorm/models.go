//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	lms "github.com/lmsapp/lmsauth"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Username     string  `gorm:"uniqueIndex;size:64"`
	Email        *string `gorm:"uniqueIndex;size:255"`
	Phone        string  `gorm:"size:32"`
	FullName     string  `gorm:"size:255"`
	ClassID      string  `gorm:"size:64"`
	Role         string  `gorm:"size:16"`
	PasswordHash string  `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *lms.User {
	u := &lms.User{
		ID:           m.ID,
		Username:     m.Username,
		Phone:        m.Phone,
		FullName:     m.FullName,
		ClassID:      m.ClassID,
		Role:         lms.Role(m.Role),
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Email != nil {
		u.Email = *m.Email
	}
	return u
}

func UserToModel(u *lms.User) *UserModel {
	m := &UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Phone:        u.Phone,
		FullName:     u.FullName,
		ClassID:      u.ClassID,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	// NULL so that accounts without an email don't collide on the index
	if u.Email != "" {
		email := u.Email
		m.Email = &email
	}
	return m
}

// RefreshTokenModel is the GORM model for refresh tokens
type RefreshTokenModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	Family     string `gorm:"size:64;index"`
	Generation int
	Username   string `gorm:"size:64;index"`
	CreatedAt  time.Time
	ExpiresAt  time.Time `gorm:"index"`
	Revoked    bool      `gorm:"default:false"`
	RevokedAt  *time.Time
}

func (RefreshTokenModel) TableName() string {
	return "refresh_tokens"
}

func (m *RefreshTokenModel) ToRefreshToken() *lms.RefreshToken {
	rt := &lms.RefreshToken{
		ID:         m.ID,
		Family:     m.Family,
		Generation: m.Generation,
		Username:   m.Username,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		Revoked:    m.Revoked,
	}
	if m.RevokedAt != nil {
		rt.RevokedAt = *m.RevokedAt
	}
	return rt
}

func RefreshTokenToModel(rt *lms.RefreshToken) *RefreshTokenModel {
	m := &RefreshTokenModel{
		ID:         rt.ID,
		Family:     rt.Family,
		Generation: rt.Generation,
		Username:   rt.Username,
		CreatedAt:  rt.CreatedAt,
		ExpiresAt:  rt.ExpiresAt,
		Revoked:    rt.Revoked,
	}
	if !rt.RevokedAt.IsZero() {
		at := rt.RevokedAt
		m.RevokedAt = &at
	}
	return m
}

// ResetCodeModel is the GORM model for password reset codes
type ResetCodeModel struct {
	Email     string `gorm:"primaryKey;size:255"`
	CodeHash  string `gorm:"size:64"`
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (ResetCodeModel) TableName() string {
	return "reset_codes"
}

func (m *ResetCodeModel) ToResetCode() *lms.ResetCode {
	return &lms.ResetCode{
		Email:     m.Email,
		CodeHash:  m.CodeHash,
		Attempts:  m.Attempts,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}
