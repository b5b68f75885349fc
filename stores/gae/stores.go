//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	lms "github.com/lmsapp/lmsauth"
)

// Kind constants for Datastore entities
const (
	KindUser         = "User"
	KindUsername     = "Username"
	KindEmail        = "Email"
	KindRefreshToken = "RefreshToken"
	KindResetCode    = "ResetCode"
)

// base holds what every store needs
type base struct {
	client    *datastore.Client
	namespace string
	ctx       context.Context
}

func newBase(client *datastore.Client, namespace string) base {
	return base{client: client, namespace: namespace, ctx: context.Background()}
}

func (b base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = b.namespace
	return key
}

func (b base) query(kind string) *datastore.Query {
	query := datastore.NewQuery(kind)
	if b.namespace != "" {
		query = query.Namespace(b.namespace)
	}
	return query
}

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements lms.UserStore using Google Cloud Datastore
type UserStore struct {
	base
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{base: newBase(client, namespace)}
}

// WithContext returns a copy of the store with the given context
func (s *UserStore) WithContext(ctx context.Context) *UserStore {
	out := *s
	out.ctx = ctx
	return &out
}

func (s *UserStore) CreateUser(user *lms.User) error {
	userKey := s.namespacedKey(KindUser, user.ID)
	usernameKey := s.namespacedKey(KindUsername, user.Username)
	var emailKey *datastore.Key
	if user.Email != "" {
		emailKey = s.namespacedKey(KindEmail, strings.ToLower(user.Email))
	}

	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		reserved := []*datastore.Key{usernameKey}
		if emailKey != nil {
			reserved = append(reserved, emailKey)
		}
		for _, key := range reserved {
			var idx IndexEntity
			err := tx.Get(key, &idx)
			if err == nil {
				return lms.ErrUserExists
			}
			if !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}

		for _, key := range reserved {
			if _, err := tx.Put(key, &IndexEntity{Key: key, UserID: user.ID}); err != nil {
				return err
			}
		}
		_, err := tx.Put(userKey, UserToEntity(user, userKey))
		return err
	})
	return err
}

func (s *UserStore) getByIndex(key *datastore.Key) (*lms.User, error) {
	var idx IndexEntity
	if err := s.client.Get(s.ctx, key, &idx); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, lms.ErrUserNotFound
		}
		return nil, err
	}
	return s.getByID(idx.UserID)
}

func (s *UserStore) getByID(id string) (*lms.User, error) {
	key := s.namespacedKey(KindUser, id)
	var entity UserEntity
	if err := s.client.Get(s.ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, lms.ErrUserNotFound
		}
		return nil, err
	}
	entity.Key = key
	return entity.ToUser(), nil
}

func (s *UserStore) GetUserByUsername(username string) (*lms.User, error) {
	return s.getByIndex(s.namespacedKey(KindUsername, username))
}

func (s *UserStore) GetUserByEmail(email string) (*lms.User, error) {
	return s.getByIndex(s.namespacedKey(KindEmail, strings.ToLower(email)))
}

func (s *UserStore) UpdatePassword(userID, passwordHash string) error {
	key := s.namespacedKey(KindUser, userID)
	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return lms.ErrUserNotFound
			}
			return err
		}
		entity.Key = key
		entity.PasswordHash = passwordHash
		entity.UpdatedAt = time.Now()
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

// ============================================================================
// RefreshTokenStore
// ============================================================================

// RefreshTokenStore implements lms.RefreshTokenStore using Google Cloud Datastore
type RefreshTokenStore struct {
	base
}

// NewRefreshTokenStore creates a new Datastore-backed RefreshTokenStore
func NewRefreshTokenStore(client *datastore.Client, namespace string) *RefreshTokenStore {
	return &RefreshTokenStore{base: newBase(client, namespace)}
}

// WithContext returns a copy of the store with the given context
func (s *RefreshTokenStore) WithContext(ctx context.Context) *RefreshTokenStore {
	out := *s
	out.ctx = ctx
	return &out
}

func (s *RefreshTokenStore) CreateRefreshToken(token *lms.RefreshToken) error {
	key := s.namespacedKey(KindRefreshToken, token.ID)
	_, err := s.client.Put(s.ctx, key, RefreshTokenToEntity(token, key))
	return err
}

func (s *RefreshTokenStore) GetRefreshToken(id string) (*lms.RefreshToken, error) {
	key := s.namespacedKey(KindRefreshToken, id)
	var entity RefreshTokenEntity
	if err := s.client.Get(s.ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, lms.ErrTokenNotFound
		}
		return nil, err
	}
	entity.Key = key
	return entity.ToRefreshToken(), nil
}

func (s *RefreshTokenStore) RotateRefreshToken(oldID string, next *lms.RefreshToken) error {
	oldKey := s.namespacedKey(KindRefreshToken, oldID)
	nextKey := s.namespacedKey(KindRefreshToken, next.ID)

	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var old RefreshTokenEntity
		if err := tx.Get(oldKey, &old); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return lms.ErrTokenNotFound
			}
			return err
		}
		if old.Revoked {
			return lms.ErrTokenReused
		}
		if next.CreatedAt.After(old.ExpiresAt) {
			return lms.ErrTokenExpired
		}

		old.Key = oldKey
		old.Revoked = true
		old.RevokedAt = next.CreatedAt
		if _, err := tx.Put(oldKey, &old); err != nil {
			return err
		}
		_, err := tx.Put(nextKey, RefreshTokenToEntity(next, nextKey))
		return err
	})
	return err
}

// revokeMatching revokes every unrevoked token whose field equals value
func (s *RefreshTokenStore) revokeMatching(field, value string) error {
	query := s.query(KindRefreshToken).
		FilterField(field, "=", value).
		FilterField("revoked", "=", false)

	now := time.Now()
	it := s.client.Run(s.ctx, query)
	for {
		var entity RefreshTokenEntity
		key, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}

		entity.Key = key
		entity.Revoked = true
		entity.RevokedAt = now
		if _, err := s.client.Put(s.ctx, key, &entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *RefreshTokenStore) RevokeUserTokens(username string) error {
	return s.revokeMatching("username", username)
}

func (s *RefreshTokenStore) RevokeTokenFamily(family string) error {
	return s.revokeMatching("family", family)
}

func (s *RefreshTokenStore) CleanupExpiredTokens() error {
	query := s.query(KindRefreshToken).
		FilterField("expires_at", "<", time.Now()).
		KeysOnly()

	keys, err := s.client.GetAll(s.ctx, query, nil)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(s.ctx, keys)
}

// ============================================================================
// ResetCodeStore
// ============================================================================

// ResetCodeStore implements lms.ResetCodeStore using Google Cloud Datastore
type ResetCodeStore struct {
	base
}

func NewResetCodeStore(client *datastore.Client, namespace string) *ResetCodeStore {
	return &ResetCodeStore{base: newBase(client, namespace)}
}

// WithContext returns a copy of the store with the given context
func (s *ResetCodeStore) WithContext(ctx context.Context) *ResetCodeStore {
	out := *s
	out.ctx = ctx
	return &out
}

func (s *ResetCodeStore) SaveResetCode(code *lms.ResetCode) error {
	key := s.namespacedKey(KindResetCode, strings.ToLower(code.Email))
	_, err := s.client.Put(s.ctx, key, &ResetCodeEntity{
		Key:       key,
		CodeHash:  code.CodeHash,
		Attempts:  code.Attempts,
		CreatedAt: code.CreatedAt,
		ExpiresAt: code.ExpiresAt,
	})
	return err
}

func (s *ResetCodeStore) GetResetCode(email string) (*lms.ResetCode, error) {
	key := s.namespacedKey(KindResetCode, strings.ToLower(email))
	var entity ResetCodeEntity
	if err := s.client.Get(s.ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, lms.ErrResetCodeNotFound
		}
		return nil, err
	}
	entity.Key = key
	return entity.ToResetCode(), nil
}

func (s *ResetCodeStore) DeleteResetCode(email string) error {
	return s.client.Delete(s.ctx, s.namespacedKey(KindResetCode, strings.ToLower(email)))
}
