//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the
// lmsauth server stores. It supports multi-tenancy through Datastore
// namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: LMS accounts, keyed by user id
//   - Username, Email: uniqueness markers pointing at a User
//   - RefreshToken: issued refresh tokens keyed by jti
//   - ResetCode: pending password reset codes keyed by email
//
// # Namespacing
//
// Pass a namespace when creating stores to isolate data between tenants:
//
//	users := gae.NewUserStore(client, "tenant-123")
//	refreshTokens := gae.NewRefreshTokenStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	users := gae.NewUserStore(client, "")  // default namespace
//	refreshTokens := gae.NewRefreshTokenStore(client, "")
//	resetCodes := gae.NewResetCodeStore(client, "")
package gae
