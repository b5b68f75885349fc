package fs

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	lms "github.com/lmsapp/lmsauth"
)

// FSResetCodeStore keeps one pending reset code per email
type FSResetCodeStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSResetCodeStore(storagePath string) *FSResetCodeStore {
	return &FSResetCodeStore{StoragePath: storagePath}
}

func (s *FSResetCodeStore) codePath(email string) string {
	return filepath.Join(s.StoragePath, "reset_codes", fileKey(strings.ToLower(email)))
}

func (s *FSResetCodeStore) SaveResetCode(code *lms.ResetCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.codePath(code.Email), code)
}

func (s *FSResetCodeStore) GetResetCode(email string) (*lms.ResetCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var code lms.ResetCode
	if err := readJSON(s.codePath(email), &code); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, lms.ErrResetCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (s *FSResetCodeStore) DeleteResetCode(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.codePath(email))
}
