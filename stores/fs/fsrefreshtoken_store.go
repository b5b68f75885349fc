package fs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lms "github.com/lmsapp/lmsauth"
)

// FSRefreshTokenStore stores refresh token records as JSON files
type FSRefreshTokenStore struct {
	StoragePath string
	mu          sync.RWMutex
}

// NewFSRefreshTokenStore creates a new file-based refresh token store
func NewFSRefreshTokenStore(storagePath string) *FSRefreshTokenStore {
	return &FSRefreshTokenStore{StoragePath: storagePath}
}

func (s *FSRefreshTokenStore) tokenDir() string {
	return filepath.Join(s.StoragePath, "refresh_tokens")
}

func (s *FSRefreshTokenStore) tokenPath(id string) string {
	return filepath.Join(s.tokenDir(), fileKey(id))
}

func (s *FSRefreshTokenStore) CreateRefreshToken(token *lms.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.tokenPath(token.ID), token)
}

func (s *FSRefreshTokenStore) GetRefreshToken(id string) (*lms.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTokenUnsafe(id)
}

// getTokenUnsafe retrieves a token without locking (caller must hold lock)
func (s *FSRefreshTokenStore) getTokenUnsafe(id string) (*lms.RefreshToken, error) {
	var token lms.RefreshToken
	if err := readJSON(s.tokenPath(id), &token); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, lms.ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

// RotateRefreshToken revokes oldID and stores next in one locked step
func (s *FSRefreshTokenStore) RotateRefreshToken(oldID string, next *lms.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.getTokenUnsafe(oldID)
	if err != nil {
		return err
	}
	// Check if already revoked (token reuse attack detection)
	if old.Revoked {
		return lms.ErrTokenReused
	}
	if old.IsExpired(next.CreatedAt) {
		return lms.ErrTokenExpired
	}

	old.Revoked = true
	old.RevokedAt = next.CreatedAt
	if err := writeJSON(s.tokenPath(old.ID), old); err != nil {
		return err
	}
	return writeJSON(s.tokenPath(next.ID), next)
}

// each calls fn for every stored token. Caller must hold the lock.
func (s *FSRefreshTokenStore) each(fn func(*lms.RefreshToken) error) error {
	entries, err := os.ReadDir(s.tokenDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		var token lms.RefreshToken
		if err := readJSON(filepath.Join(s.tokenDir(), entry.Name()), &token); err != nil {
			continue
		}
		if err := fn(&token); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSRefreshTokenStore) revokeWhere(match func(*lms.RefreshToken) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	return s.each(func(token *lms.RefreshToken) error {
		if token.Revoked || !match(token) {
			return nil
		}
		token.Revoked = true
		token.RevokedAt = now
		return writeJSON(s.tokenPath(token.ID), token)
	})
}

// RevokeTokenFamily revokes all tokens in a family (for theft detection)
func (s *FSRefreshTokenStore) RevokeTokenFamily(family string) error {
	return s.revokeWhere(func(t *lms.RefreshToken) bool { return t.Family == family })
}

// RevokeUserTokens revokes all refresh tokens for a user
func (s *FSRefreshTokenStore) RevokeUserTokens(username string) error {
	return s.revokeWhere(func(t *lms.RefreshToken) bool { return t.Username == username })
}

// CleanupExpiredTokens removes expired tokens
func (s *FSRefreshTokenStore) CleanupExpiredTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	return s.each(func(token *lms.RefreshToken) error {
		if token.IsExpired(now) {
			return removeFile(s.tokenPath(token.ID))
		}
		return nil
	})
}
