package fs

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lms "github.com/lmsapp/lmsauth"
)

// userIndex maps a username or email to a user id
type userIndex struct {
	UserID string `json:"user_id"`
}

// FSUserStore stores users as JSON files, with username and email index
// files pointing at the user record.
type FSUserStore struct {
	StoragePath string
	mu          sync.RWMutex
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) userPath(id string) string {
	return filepath.Join(s.StoragePath, "users", fileKey(id))
}

func (s *FSUserStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "usernames", fileKey(username))
}

func (s *FSUserStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", fileKey(strings.ToLower(email)))
}

func exists(path string, v any) (bool, error) {
	err := readJSON(path, v)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSUserStore) CreateUser(user *lms.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx userIndex
	if found, err := exists(s.usernamePath(user.Username), &idx); err != nil {
		return err
	} else if found {
		return lms.ErrUserExists
	}
	if user.Email != "" {
		if found, err := exists(s.emailPath(user.Email), &idx); err != nil {
			return err
		} else if found {
			return lms.ErrUserExists
		}
	}

	if err := writeJSON(s.userPath(user.ID), user); err != nil {
		return err
	}
	if err := writeJSON(s.usernamePath(user.Username), userIndex{UserID: user.ID}); err != nil {
		return err
	}
	if user.Email != "" {
		return writeJSON(s.emailPath(user.Email), userIndex{UserID: user.ID})
	}
	return nil
}

func (s *FSUserStore) getByIndex(path string) (*lms.User, error) {
	var idx userIndex
	if found, err := exists(path, &idx); err != nil {
		return nil, err
	} else if !found {
		return nil, lms.ErrUserNotFound
	}
	return s.getByID(idx.UserID)
}

func (s *FSUserStore) getByID(id string) (*lms.User, error) {
	var user lms.User
	if found, err := exists(s.userPath(id), &user); err != nil {
		return nil, err
	} else if !found {
		return nil, lms.ErrUserNotFound
	}
	return &user, nil
}

func (s *FSUserStore) GetUserByUsername(username string) (*lms.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByIndex(s.usernamePath(username))
}

func (s *FSUserStore) GetUserByEmail(email string) (*lms.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByIndex(s.emailPath(email))
}

func (s *FSUserStore) UpdatePassword(userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.getByID(userID)
	if err != nil {
		return err
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now()
	return writeJSON(s.userPath(user.ID), user)
}
