package client

import (
	"net/url"
	"strings"
)

// API paths, relative to the session's base URL.
const (
	PathLogin                = "/users/login"
	PathRefreshToken         = "/users/refresh-token"
	PathExchangeToken        = "/users/exchange-token"
	PathStudentSignup        = "/students/signup"
	PathDriverSignup         = "/driver/signup"
	PathRequestPasswordReset = "/request-password-reset"
	PathCheckResetCode       = "/check-code-for-reset"
	PathResetPassword        = "/reset-password"
	PathClassesList          = "/classes/list"
)

// DefaultBoundaryPaths are the endpoints that form the authentication
// boundary. Requests to them carry no bearer token and a 401 from them ends
// the session without attempting a refresh.
var DefaultBoundaryPaths = []string{
	PathLogin,
	PathDriverSignup,
	PathStudentSignup,
	PathRefreshToken,
	PathRequestPasswordReset,
	PathCheckResetCode,
	PathResetPassword,
	PathExchangeToken,
	PathClassesList,
}

// boundary is a static set of paths plus the API root they hang off.
type boundary struct {
	base  *url.URL
	paths map[string]struct{}
}

func newBoundary(base *url.URL, paths []string) *boundary {
	b := &boundary{base: base, paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		b.paths[normalizePath(p)] = struct{}{}
	}
	return b
}

func (b *boundary) add(paths ...string) {
	for _, p := range paths {
		b.paths[normalizePath(p)] = struct{}{}
	}
}

// sameOrigin returns true if u points at the API host.
func (b *boundary) sameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, b.base.Scheme) && strings.EqualFold(u.Host, b.base.Host)
}

// relative strips the base path prefix, so "/api/v1/users/login" with base
// "/api/v1" becomes "/users/login".
func (b *boundary) relative(u *url.URL) string {
	p := normalizePath(u.Path)
	prefix := strings.TrimSuffix(b.base.Path, "/")
	if prefix != "" && strings.HasPrefix(p, prefix+"/") {
		p = p[len(prefix):]
	}
	return p
}

// contains reports whether u is an auth-boundary endpoint.
func (b *boundary) contains(u *url.URL) bool {
	if !b.sameOrigin(u) {
		return false
	}
	_, ok := b.paths[b.relative(u)]
	return ok
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
