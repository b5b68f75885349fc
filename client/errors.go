package client

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedToken is returned when a token is not a decodable JWT.
	ErrMalformedToken = errors.New("malformed token")

	// ErrNotFound is returned by a KeyValueStore when the key is absent.
	ErrNotFound = errors.New("key not found")

	// ErrNoRefreshToken means there is nothing to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRefreshTokenExpired is detected locally, before any network call.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrRefreshRejected means the refresh endpoint returned a non-2xx status
	// or a response without a new access token.
	ErrRefreshRejected = errors.New("refresh rejected")

	// ErrNetwork wraps transport failures during refresh.
	ErrNetwork = errors.New("network error")

	// ErrNoSession is returned when no access token is stored.
	ErrNoSession = errors.New("no active session")
)

// StorageError describes a failed secure store operation. It is logged,
// never returned to pipeline callers.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("secure store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
