package client

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the parts of an access token the client cares about.
type Claims struct {
	Subject   string // username
	ExpiresAt int64  // epoch seconds, 0 if the token carries no exp
}

// Inspector decodes bearer tokens without verifying their signature and
// decides expiry against a clock. Verification is the server's job.
type Inspector struct {
	now    func() time.Time
	parser *jwt.Parser
}

// NewInspector creates an Inspector. A nil clock means time.Now.
func NewInspector(now func() time.Time) *Inspector {
	if now == nil {
		now = time.Now
	}
	return &Inspector{now: now, parser: jwt.NewParser()}
}

var defaultInspector = NewInspector(nil)

// DecodeToken decodes token using the wall clock inspector.
func DecodeToken(token string) (Claims, error) {
	return defaultInspector.Decode(token)
}

// IsTokenExpired reports expiry using the wall clock inspector.
func IsTokenExpired(token string) bool {
	return defaultInspector.IsExpired(token)
}

// Decode extracts subject and expiry. It fails with ErrMalformedToken if the
// string is not structurally a JWT.
func (i *Inspector) Decode(token string) (Claims, error) {
	if token == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := i.parser.ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var out Claims
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		out.Subject = sub
	} else if username, ok := claims["username"].(string); ok {
		out.Subject = username
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad exp claim: %v", ErrMalformedToken, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Unix()
	}
	return out, nil
}

// IsExpired returns true if the token is absent, undecodable, or past its
// exp. A token whose exp equals the current second is still valid.
func (i *Inspector) IsExpired(token string) bool {
	if token == "" {
		return true
	}
	claims, err := i.Decode(token)
	if err != nil {
		return true
	}
	return i.expired(claims.ExpiresAt)
}

func (i *Inspector) expired(expiresAt int64) bool {
	if expiresAt == 0 {
		return true
	}
	return i.now().Unix() > expiresAt
}

// ExpiryTime returns the token's exp as a time, or the zero time.
func (i *Inspector) ExpiryTime(token string) time.Time {
	claims, err := i.Decode(token)
	if err != nil || claims.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(claims.ExpiresAt, 0)
}
