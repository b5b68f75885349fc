package client

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenSource adapts the session to oauth2.TokenSource, for libraries that
// take one (the grpc credentials in this module, for example). An expired
// access token is refreshed before it is handed out.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s}
}

type sessionTokenSource struct {
	ctx     context.Context
	session *Session
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	s := ts.session
	b := s.store.LoadBundle(ts.ctx)
	if b.AccessToken == "" {
		return nil, ErrNoSession
	}

	// opaque access tokens have no local expiry; hand them out as-is
	if claims, err := s.inspector.Decode(b.AccessToken); err == nil && s.inspector.expired(claims.ExpiresAt) {
		next, state, err := s.ensureValidSession(ts.ctx, b.AccessToken)
		if state != RefreshSucceeded {
			return nil, fmt.Errorf("session refresh (%s): %w", state, err)
		}
		b = next
	}

	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: b.RefreshToken,
		Expiry:       s.inspector.ExpiryTime(b.AccessToken),
	}, nil
}
