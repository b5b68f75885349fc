//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	lms "github.com/lmsapp/lmsauth"
)

// AutoMigrate runs database migrations for all lmsauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&RefreshTokenModel{},
		&ResetCodeModel{},
	)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements lms.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(user *lms.User) error {
	model := UserToModel(user)
	return s.db.Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&UserModel{}).Where("username = ?", model.Username)
		if model.Email != nil {
			query = query.Or("email = ?", *model.Email)
		}
		var count int64
		if err := query.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return lms.ErrUserExists
		}
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return lms.ErrUserExists
			}
			return err
		}
		return nil
	})
}

func (s *UserStore) first(query string, arg any) (*lms.User, error) {
	var model UserModel
	if err := s.db.First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lms.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByUsername(username string) (*lms.User, error) {
	return s.first("username = ?", username)
}

func (s *UserStore) GetUserByEmail(email string) (*lms.User, error) {
	return s.first("email = ?", strings.ToLower(email))
}

func (s *UserStore) UpdatePassword(userID, passwordHash string) error {
	result := s.db.Model(&UserModel{}).Where("id = ?", userID).
		Updates(map[string]any{"password_hash": passwordHash, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return lms.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// RefreshTokenStore
// =============================================================================

// RefreshTokenStore implements lms.RefreshTokenStore using GORM
type RefreshTokenStore struct {
	db *gorm.DB
}

func NewRefreshTokenStore(db *gorm.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

func (s *RefreshTokenStore) CreateRefreshToken(token *lms.RefreshToken) error {
	return s.db.Create(RefreshTokenToModel(token)).Error
}

func (s *RefreshTokenStore) GetRefreshToken(id string) (*lms.RefreshToken, error) {
	var model RefreshTokenModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lms.ErrTokenNotFound
		}
		return nil, err
	}
	return model.ToRefreshToken(), nil
}

func (s *RefreshTokenStore) RotateRefreshToken(oldID string, next *lms.RefreshToken) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var oldModel RefreshTokenModel
		if err := tx.First(&oldModel, "id = ?", oldID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lms.ErrTokenNotFound
			}
			return err
		}

		if oldModel.Revoked {
			return lms.ErrTokenReused
		}
		if next.CreatedAt.After(oldModel.ExpiresAt) {
			return lms.ErrTokenExpired
		}

		// Conditional update so two concurrent rotations can't both win
		result := tx.Model(&RefreshTokenModel{}).
			Where("id = ? AND revoked = ?", oldID, false).
			Updates(map[string]any{"revoked": true, "revoked_at": next.CreatedAt})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return lms.ErrTokenReused
		}

		return tx.Create(RefreshTokenToModel(next)).Error
	})
}

func (s *RefreshTokenStore) RevokeUserTokens(username string) error {
	now := time.Now()
	return s.db.Model(&RefreshTokenModel{}).
		Where("username = ? AND revoked = ?", username, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now}).Error
}

func (s *RefreshTokenStore) RevokeTokenFamily(family string) error {
	now := time.Now()
	return s.db.Model(&RefreshTokenModel{}).
		Where("family = ? AND revoked = ?", family, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now}).Error
}

func (s *RefreshTokenStore) CleanupExpiredTokens() error {
	return s.db.Delete(&RefreshTokenModel{}, "expires_at < ?", time.Now()).Error
}

// =============================================================================
// ResetCodeStore
// =============================================================================

// ResetCodeStore implements lms.ResetCodeStore using GORM
type ResetCodeStore struct {
	db *gorm.DB
}

func NewResetCodeStore(db *gorm.DB) *ResetCodeStore {
	return &ResetCodeStore{db: db}
}

func (s *ResetCodeStore) SaveResetCode(code *lms.ResetCode) error {
	model := &ResetCodeModel{
		Email:     strings.ToLower(code.Email),
		CodeHash:  code.CodeHash,
		Attempts:  code.Attempts,
		CreatedAt: code.CreatedAt,
		ExpiresAt: code.ExpiresAt,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}

func (s *ResetCodeStore) GetResetCode(email string) (*lms.ResetCode, error) {
	var model ResetCodeModel
	if err := s.db.First(&model, "email = ?", strings.ToLower(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lms.ErrResetCodeNotFound
		}
		return nil, err
	}
	return model.ToResetCode(), nil
}

func (s *ResetCodeStore) DeleteResetCode(email string) error {
	return s.db.Delete(&ResetCodeModel{}, "email = ?", strings.ToLower(email)).Error
}
