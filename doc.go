// Package lmsauth is the reference server side of the LMS API session
// lifecycle. It issues and rotates the token bundle the client package
// consumes and runs the password reset flow.
//
// # Tokens
//
// Access and refresh tokens are HS256 JWTs. Both carry the username as
// "sub" and a "type" claim. Refresh tokens also carry a "jti" that is
// tracked in a RefreshTokenStore together with a family id. Every refresh
// rotates the token; presenting an already rotated token revokes the
// whole family, so a stolen refresh token is only good until its owner
// uses theirs.
//
// # Endpoints
//
//	POST /users/login             {username, password}
//	POST /users/refresh-token     {refreshToken}
//	POST /students/signup         SignupRequest
//	POST /driver/signup           SignupRequest
//	POST /users/exchange-token    {provider, accessToken}
//	POST /request-password-reset  {email}
//	POST /check-code-for-reset    {email, code}
//	POST /reset-password          {email, code, password}
//	GET  /classes/list            public
//	GET  /courses/list ...        bearer token required
//
// Login, signup, refresh and exchange all answer with
//
//	{"access_token", "refresh_token", "expires_in", "refresh_expires_in", "token_type"}
//
// and errors use the OAuth shape {"error", "error_description"}.
//
// # Store Implementations
//
// The stores package tree provides file (stores/fs), SQL via GORM
// (stores/gorm) and Cloud Datastore (stores/gae) implementations of
// UserStore, RefreshTokenStore and ResetCodeStore.
//
// # Security
//
// Passwords are hashed with bcrypt. Reset codes are six random digits,
// stored as SHA-256 hashes, valid for 15 minutes, single use and limited
// to five wrong guesses.
package lmsauth
