package client

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspector_Decode(t *testing.T) {
	in := NewInspector(fixedClock)

	t.Run("subject and expiry", func(t *testing.T) {
		claims, err := in.Decode(signedToken(t, "alice", testNow.Unix()+60))
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		assert.Equal(t, testNow.Unix()+60, claims.ExpiresAt)
	})

	t.Run("username fallback", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"username": "bob",
			"exp":      testNow.Unix(),
		}).SignedString([]byte("k"))
		require.NoError(t, err)

		claims, err := in.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, "bob", claims.Subject)
	})

	t.Run("signature is not verified", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "carol"}).
			SignedString([]byte("some other key"))
		require.NoError(t, err)

		claims, err := in.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, "carol", claims.Subject)
		assert.Zero(t, claims.ExpiresAt)
	})

	for _, bad := range []string{"", "not-a-jwt", "a.b", "a.b.c", "x.eyJzdWIiOiJ4In0"} {
		t.Run("malformed "+bad, func(t *testing.T) {
			_, err := in.Decode(bad)
			require.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestInspector_IsExpired(t *testing.T) {
	in := NewInspector(fixedClock)
	now := testNow.Unix()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"empty fails closed", "", true},
		{"garbage fails closed", "garbage", true},
		{"future exp", signedToken(t, "u", now+1), false},
		{"exp equal to now is valid", signedToken(t, "u", now), false},
		{"exp one second ago", signedToken(t, "u", now-1), true},
		{"no exp", signedToken(t, "u", 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, in.IsExpired(tt.token))
		})
	}
}

func TestInspector_ExpiryTime(t *testing.T) {
	in := NewInspector(fixedClock)
	exp := testNow.Add(time.Hour)

	assert.Equal(t, exp.Unix(), in.ExpiryTime(signedToken(t, "u", exp.Unix())).Unix())
	assert.True(t, in.ExpiryTime("opaque").IsZero())
}

func TestPackageHelpers(t *testing.T) {
	future := signedToken(t, "dave", time.Now().Add(time.Hour).Unix())
	assert.False(t, IsTokenExpired(future))

	claims, err := DecodeToken(future)
	require.NoError(t, err)
	assert.Equal(t, "dave", claims.Subject)
}
