package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// KeyValueStore is the durable backend behind the secure token store.
type KeyValueStore interface {
	// Get returns ErrNotFound if the key does not exist
	Get(ctx context.Context, key string) (string, error)

	Set(ctx context.Context, key, value string) error

	// Delete is a no-op for missing keys
	Delete(ctx context.Context, key string) error
}

// BatchStore is implemented by backends that can write or remove several keys
// atomically. The secure store uses it to replace the whole bundle at once.
type BatchStore interface {
	SetMany(ctx context.Context, values map[string]string) error
	DeleteMany(ctx context.Context, keys ...string) error
}

// SecureStore wraps a KeyValueStore so that callers never see an error.
// Failed reads are reported as absent and failed writes are dropped; both are
// logged as a *StorageError.
type SecureStore struct {
	backend KeyValueStore
	logger  *slog.Logger
}

// NewSecureStore creates a fail-safe store over backend.
func NewSecureStore(backend KeyValueStore, logger *slog.Logger) *SecureStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecureStore{backend: backend, logger: logger}
}

// Get returns the value for key and whether it was present.
func (s *SecureStore) Get(ctx context.Context, key string) (string, bool) {
	v, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.report(ctx, &StorageError{Op: "get", Key: key, Err: err})
		}
		return "", false
	}
	return v, v != ""
}

// Set stores value under key. It returns false if the write failed.
func (s *SecureStore) Set(ctx context.Context, key, value string) bool {
	if err := s.backend.Set(ctx, key, value); err != nil {
		s.report(ctx, &StorageError{Op: "set", Key: key, Err: err})
		return false
	}
	return true
}

// Clear removes key.
func (s *SecureStore) Clear(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.report(ctx, &StorageError{Op: "clear", Key: key, Err: err})
	}
}

// LoadBundle reads all four bundle keys. Missing keys come back empty.
func (s *SecureStore) LoadBundle(ctx context.Context) Bundle {
	var b Bundle
	b.AccessToken, _ = s.Get(ctx, KeyToken)
	b.RefreshToken, _ = s.Get(ctx, KeyRefreshToken)
	b.AccessTokenExpiry, _ = s.Get(ctx, KeyAccessTokenExpiry)
	b.RefreshTokenExpiry, _ = s.Get(ctx, KeyRefreshTokenExpiry)
	return b
}

// SaveBundle persists all four fields. Batch-capable backends replace the
// bundle atomically; others are written key by key, so a concurrent reader can
// briefly see a mix of old and new fields. Returns false if any write failed.
func (s *SecureStore) SaveBundle(ctx context.Context, b Bundle) bool {
	if batch, ok := s.backend.(BatchStore); ok {
		if err := batch.SetMany(ctx, b.values()); err != nil {
			s.report(ctx, &StorageError{Op: "set", Key: "bundle", Err: err})
			return false
		}
		return true
	}

	values := b.values()
	ok := true
	for _, key := range bundleKeys {
		if !s.Set(ctx, key, values[key]) {
			ok = false
		}
	}
	return ok
}

// ClearBundle removes the whole bundle.
func (s *SecureStore) ClearBundle(ctx context.Context) {
	if batch, ok := s.backend.(BatchStore); ok {
		if err := batch.DeleteMany(ctx, bundleKeys...); err != nil {
			s.report(ctx, &StorageError{Op: "clear", Key: "bundle", Err: err})
		}
		return
	}
	for _, key := range bundleKeys {
		s.Clear(ctx, key)
	}
}

func (s *SecureStore) report(ctx context.Context, err *StorageError) {
	s.logger.WarnContext(ctx, "secure store operation failed",
		"op", err.Op, "key", err.Key, "error", err.Err)
}

// MemoryStore is an in-process KeyValueStore, mostly for tests and for
// short-lived CLI sessions.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryStore) DeleteMany(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
