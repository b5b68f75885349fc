// Package storetest holds behaviour tests shared by every server store
// implementation.
package storetest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lms "github.com/lmsapp/lmsauth"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func user(username, email string) *lms.User {
	return &lms.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		FullName:     "Test " + username,
		ClassID:      "c10",
		Role:         lms.RoleStudent,
		PasswordHash: "hash-" + username,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
}

// RunUserStore exercises a UserStore. newStore must return an empty store.
func RunUserStore(t *testing.T, newStore func(t *testing.T) lms.UserStore) {
	t.Run("create and look up", func(t *testing.T) {
		s := newStore(t)
		u := user("alice", "alice@example.com")
		require.NoError(t, s.CreateUser(u))

		byName, err := s.GetUserByUsername("alice")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
		assert.Equal(t, "alice@example.com", byName.Email)
		assert.Equal(t, lms.RoleStudent, byName.Role)
		assert.Equal(t, "c10", byName.ClassID)

		byEmail, err := s.GetUserByEmail("Alice@Example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("missing user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUserByUsername("nobody")
		assert.ErrorIs(t, err, lms.ErrUserNotFound)
		_, err = s.GetUserByEmail("nobody@example.com")
		assert.ErrorIs(t, err, lms.ErrUserNotFound)
	})

	t.Run("duplicates rejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(user("bob", "bob@example.com")))
		assert.ErrorIs(t, s.CreateUser(user("bob", "other@example.com")), lms.ErrUserExists)
		assert.ErrorIs(t, s.CreateUser(user("robert", "bob@example.com")), lms.ErrUserExists)
	})

	t.Run("users without email", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(user("driver1", "")))
		require.NoError(t, s.CreateUser(user("driver2", "")))
	})

	t.Run("update password", func(t *testing.T) {
		s := newStore(t)
		u := user("carol", "carol@example.com")
		require.NoError(t, s.CreateUser(u))
		require.NoError(t, s.UpdatePassword(u.ID, "new-hash"))

		got, err := s.GetUserByUsername("carol")
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)

		assert.ErrorIs(t, s.UpdatePassword("missing", "x"), lms.ErrUserNotFound)
	})
}

func refreshToken(family, username string, generation int, createdAt time.Time) *lms.RefreshToken {
	return &lms.RefreshToken{
		ID:         uuid.NewString(),
		Family:     family,
		Generation: generation,
		Username:   username,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(time.Hour),
	}
}

// RunRefreshTokenStore exercises a RefreshTokenStore
func RunRefreshTokenStore(t *testing.T, newStore func(t *testing.T) lms.RefreshTokenStore) {
	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		rt := refreshToken("fam", "alice", 0, epoch)
		require.NoError(t, s.CreateRefreshToken(rt))

		got, err := s.GetRefreshToken(rt.ID)
		require.NoError(t, err)
		assert.Equal(t, "fam", got.Family)
		assert.Equal(t, "alice", got.Username)
		assert.False(t, got.Revoked)
		assert.True(t, got.ExpiresAt.Equal(rt.ExpiresAt))

		_, err = s.GetRefreshToken("missing")
		assert.ErrorIs(t, err, lms.ErrTokenNotFound)
	})

	t.Run("rotate", func(t *testing.T) {
		s := newStore(t)
		first := refreshToken("fam", "alice", 0, epoch)
		require.NoError(t, s.CreateRefreshToken(first))

		second := refreshToken("fam", "alice", 1, epoch.Add(time.Minute))
		require.NoError(t, s.RotateRefreshToken(first.ID, second))

		old, err := s.GetRefreshToken(first.ID)
		require.NoError(t, err)
		assert.True(t, old.Revoked)

		cur, err := s.GetRefreshToken(second.ID)
		require.NoError(t, err)
		assert.False(t, cur.Revoked)
		assert.Equal(t, 1, cur.Generation)

		// replaying the rotated token is reuse
		third := refreshToken("fam", "alice", 1, epoch.Add(2*time.Minute))
		assert.ErrorIs(t, s.RotateRefreshToken(first.ID, third), lms.ErrTokenReused)
	})

	t.Run("rotate expired", func(t *testing.T) {
		s := newStore(t)
		first := refreshToken("fam", "alice", 0, epoch)
		require.NoError(t, s.CreateRefreshToken(first))
		late := refreshToken("fam", "alice", 1, epoch.Add(2*time.Hour))
		assert.ErrorIs(t, s.RotateRefreshToken(first.ID, late), lms.ErrTokenExpired)
	})

	t.Run("rotate unknown", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.RotateRefreshToken("missing", refreshToken("f", "a", 1, epoch)), lms.ErrTokenNotFound)
	})

	t.Run("revoke family", func(t *testing.T) {
		s := newStore(t)
		a := refreshToken("fam-a", "alice", 0, epoch)
		b := refreshToken("fam-a", "alice", 1, epoch)
		other := refreshToken("fam-b", "alice", 0, epoch)
		for _, rt := range []*lms.RefreshToken{a, b, other} {
			require.NoError(t, s.CreateRefreshToken(rt))
		}
		require.NoError(t, s.RevokeTokenFamily("fam-a"))

		for _, id := range []string{a.ID, b.ID} {
			got, err := s.GetRefreshToken(id)
			require.NoError(t, err)
			assert.True(t, got.Revoked)
		}
		got, err := s.GetRefreshToken(other.ID)
		require.NoError(t, err)
		assert.False(t, got.Revoked)
	})

	t.Run("revoke user", func(t *testing.T) {
		s := newStore(t)
		mine := refreshToken("f1", "alice", 0, epoch)
		theirs := refreshToken("f2", "bob", 0, epoch)
		require.NoError(t, s.CreateRefreshToken(mine))
		require.NoError(t, s.CreateRefreshToken(theirs))
		require.NoError(t, s.RevokeUserTokens("alice"))

		got, err := s.GetRefreshToken(mine.ID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		got, err = s.GetRefreshToken(theirs.ID)
		require.NoError(t, err)
		assert.False(t, got.Revoked)
	})

	t.Run("cleanup", func(t *testing.T) {
		s := newStore(t)
		expired := refreshToken("f", "alice", 0, time.Now().Add(-3*time.Hour))
		live := refreshToken("f", "alice", 1, time.Now())
		require.NoError(t, s.CreateRefreshToken(expired))
		require.NoError(t, s.CreateRefreshToken(live))
		require.NoError(t, s.CleanupExpiredTokens())

		_, err := s.GetRefreshToken(expired.ID)
		assert.ErrorIs(t, err, lms.ErrTokenNotFound)
		_, err = s.GetRefreshToken(live.ID)
		assert.NoError(t, err)
	})
}

// RunResetCodeStore exercises a ResetCodeStore
func RunResetCodeStore(t *testing.T, newStore func(t *testing.T) lms.ResetCodeStore) {
	t.Run("save get delete", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetResetCode("alice@example.com")
		assert.ErrorIs(t, err, lms.ErrResetCodeNotFound)

		code := &lms.ResetCode{
			Email:     "alice@example.com",
			CodeHash:  lms.HashResetCode("alice@example.com", "123456"),
			CreatedAt: epoch,
			ExpiresAt: epoch.Add(lms.ResetCodeExpiry),
		}
		require.NoError(t, s.SaveResetCode(code))

		got, err := s.GetResetCode("alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, code.CodeHash, got.CodeHash)
		assert.Equal(t, "alice@example.com", got.Email)
		assert.True(t, got.ExpiresAt.Equal(code.ExpiresAt))

		require.NoError(t, s.DeleteResetCode("alice@example.com"))
		_, err = s.GetResetCode("alice@example.com")
		assert.ErrorIs(t, err, lms.ErrResetCodeNotFound)

		// deleting again is fine
		require.NoError(t, s.DeleteResetCode("alice@example.com"))
	})

	t.Run("save replaces", func(t *testing.T) {
		s := newStore(t)
		code := &lms.ResetCode{Email: "bob@example.com", CodeHash: "one", CreatedAt: epoch, ExpiresAt: epoch.Add(time.Minute)}
		require.NoError(t, s.SaveResetCode(code))
		code.CodeHash = "two"
		code.Attempts = 3
		require.NoError(t, s.SaveResetCode(code))

		got, err := s.GetResetCode("bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, "two", got.CodeHash)
		assert.Equal(t, 3, got.Attempts)
	})
}
