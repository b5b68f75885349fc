// Package fs provides an encrypted file-based KeyValueStore for the lmsauth
// client. The whole key map lives in one file sealed with NaCl secretbox
// under a key derived from a passphrase.
package fs

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/lmsapp/lmsauth/client"
)

const (
	fileVersion = 1
	saltSize    = 16
	nonceSize   = 24
	keySize     = 32

	// DefaultWorkFactor is the scrypt N parameter.
	DefaultWorkFactor = 1 << 15
)

// ErrDecrypt is returned when the file cannot be opened with the passphrase.
var ErrDecrypt = errors.New("credentials file could not be decrypted")

// EncryptedStore keeps the credential bundle in an encrypted file.
type EncryptedStore struct {
	mu         sync.RWMutex
	path       string
	salt       []byte
	workFactor int
	key        [keySize]byte
	values     map[string]string
}

// envelope is the JSON structure stored on disk
type envelope struct {
	Version int    `json:"version"`
	N       int    `json:"n"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Box     []byte `json:"box"`
}

// Option configures an EncryptedStore
type Option func(*options)

type options struct {
	workFactor int
}

// WithWorkFactor sets the scrypt cost for new files. Existing files keep the
// cost they were written with.
func WithWorkFactor(n int) Option {
	return func(o *options) {
		o.workFactor = n
	}
}

// DefaultPath returns ~/.config/<appName>/credentials.enc
func DefaultPath(appName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "lmsauth"
	}
	return filepath.Join(configDir, appName, "credentials.enc"), nil
}

// NewEncryptedStore opens (or prepares to create) the store at path.
// If path is empty, DefaultPath(appName) is used.
func NewEncryptedStore(path, appName, passphrase string, opts ...Option) (*EncryptedStore, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	o := options{workFactor: DefaultWorkFactor}
	for _, opt := range opts {
		opt(&o)
	}

	if path == "" {
		var err error
		if path, err = DefaultPath(appName); err != nil {
			return nil, err
		}
	}

	s := &EncryptedStore{path: path, values: make(map[string]string)}

	env, err := readEnvelope(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := s.deriveKey(passphrase, salt, o.workFactor); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, err
	}

	if err := s.deriveKey(passphrase, env.Salt, env.N); err != nil {
		return nil, err
	}
	if err := s.open(env); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EncryptedStore) deriveKey(passphrase string, salt []byte, n int) error {
	k, err := scrypt.Key([]byte(passphrase), salt, n, 8, 1, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	copy(s.key[:], k)
	s.salt = salt
	s.workFactor = n
	return nil
}

func readEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if env.Version != fileVersion {
		return nil, fmt.Errorf("unsupported credentials file version %d", env.Version)
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != nonceSize {
		return nil, fmt.Errorf("corrupt credentials file header")
	}
	return &env, nil
}

func (s *EncryptedStore) open(env *envelope) error {
	var nonce [nonceSize]byte
	copy(nonce[:], env.Nonce)
	plain, ok := secretbox.Open(nil, env.Box, &nonce, &s.key)
	if !ok {
		return ErrDecrypt
	}
	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return fmt.Errorf("failed to parse credentials: %w", err)
	}
	s.values = values
	return nil
}

// Get implements client.KeyValueStore
func (s *EncryptedStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", client.ErrNotFound
	}
	return v, nil
}

// Set implements client.KeyValueStore
func (s *EncryptedStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// Delete implements client.KeyValueStore
func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

// SetMany implements client.BatchStore. The file is rewritten once.
func (s *EncryptedStore) SetMany(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.values)+len(values))
	for k, v := range s.values {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// DeleteMany implements client.BatchStore
func (s *EncryptedStore) DeleteMany(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.values))
	for k, v := range s.values {
		next[k] = v
	}
	for _, k := range keys {
		delete(next, k)
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Path returns the path to the credentials file
func (s *EncryptedStore) Path() string {
	return s.path
}

// save seals values and atomically replaces the file. Caller holds mu.
func (s *EncryptedStore) save(values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	data, err := json.Marshal(envelope{
		Version: fileVersion,
		N:       s.workFactor,
		Salt:    s.salt,
		Nonce:   nonce[:],
		Box:     secretbox.Seal(nil, plain, &nonce, &s.key),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize credentials file: %w", err)
	}

	// Ensure directory exists with restricted permissions
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeAtomicFile(s.path, data)
}

// writeAtomicFile writes data to a temp file in the same directory and
// renames it over path. The file is owner read/write only.
func writeAtomicFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
