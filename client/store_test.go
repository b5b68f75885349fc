package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSecureStore(NewMemoryStore(), quietLogger())

	want := Bundle{AccessToken: "A", RefreshToken: "R", AccessTokenExpiry: "3600", RefreshTokenExpiry: "86400"}
	require.True(t, s.SaveBundle(ctx, want))
	assert.Equal(t, want, s.LoadBundle(ctx))

	v, ok := s.Get(ctx, KeyRefreshToken)
	assert.True(t, ok)
	assert.Equal(t, "R", v)

	s.ClearBundle(ctx)
	assert.True(t, s.LoadBundle(ctx).IsZero())
	_, ok = s.Get(ctx, KeyToken)
	assert.False(t, ok)
}

func TestSecureStore_SequentialBackend(t *testing.T) {
	ctx := context.Background()
	// hide the BatchStore methods
	backend := struct{ KeyValueStore }{NewMemoryStore()}
	s := NewSecureStore(backend, quietLogger())

	want := Bundle{AccessToken: "A", RefreshToken: "R", AccessTokenExpiry: "1", RefreshTokenExpiry: "2"}
	require.True(t, s.SaveBundle(ctx, want))
	assert.Equal(t, want, s.LoadBundle(ctx))

	s.Clear(ctx, KeyToken)
	got := s.LoadBundle(ctx)
	assert.Empty(t, got.AccessToken)
	assert.Equal(t, "R", got.RefreshToken)
}

func TestSecureStore_FailuresAreAbsorbed(t *testing.T) {
	ctx := context.Background()
	s := NewSecureStore(failingStore{}, quietLogger())

	_, ok := s.Get(ctx, KeyToken)
	assert.False(t, ok)
	assert.False(t, s.Set(ctx, KeyToken, "A"))
	assert.False(t, s.SaveBundle(ctx, Bundle{AccessToken: "A"}))
	assert.NotPanics(t, func() {
		s.Clear(ctx, KeyToken)
		s.ClearBundle(ctx)
	})
	assert.True(t, s.LoadBundle(ctx).IsZero())
}

func TestStorageError(t *testing.T) {
	err := &StorageError{Op: "get", Key: KeyToken, Err: errDiskGone}
	assert.ErrorIs(t, err, errDiskGone)
	assert.Contains(t, err.Error(), "token")
}

func TestSeconds_Rejects(t *testing.T) {
	for _, body := range []string{`1.5`, `"90.25"`, `1e30`, `-1e30`, `"soon"`, `true`} {
		t.Run(body, func(t *testing.T) {
			var s Seconds
			assert.Error(t, json.Unmarshal([]byte(body), &s))
		})
	}
}

func TestTokenResponse_Bundle(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Bundle
	}{
		{
			name: "numeric expiries",
			body: `{"access_token":"A","refresh_token":"R","expires_in":3600,"refresh_expires_in":86400}`,
			want: Bundle{AccessToken: "A", RefreshToken: "R", AccessTokenExpiry: "3600", RefreshTokenExpiry: "86400"},
		},
		{
			name: "quoted expiries",
			body: `{"access_token":"A","refresh_token":"R","expires_in":"3600","refresh_expires_in":"86400"}`,
			want: Bundle{AccessToken: "A", RefreshToken: "R", AccessTokenExpiry: "3600", RefreshTokenExpiry: "86400"},
		},
		{
			name: "missing refresh fields",
			body: `{"access_token":"A","expires_in":60,"refresh_expires_in":null}`,
			want: Bundle{AccessToken: "A", AccessTokenExpiry: "60"},
		},
		{
			name: "omitted expiries stay empty",
			body: `{"access_token":"A","refresh_token":"R"}`,
			want: Bundle{AccessToken: "A", RefreshToken: "R"},
		},
		{
			name: "whole float expiries",
			body: `{"access_token":"A","expires_in":3600.0,"refresh_expires_in":8.64e4}`,
			want: Bundle{AccessToken: "A", AccessTokenExpiry: "3600", RefreshTokenExpiry: "86400"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr TokenResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &tr))
			assert.Equal(t, tt.want, tr.Bundle())
		})
	}
}
