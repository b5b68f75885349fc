package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Stored refresh expiries at or above this value are absolute epoch seconds;
// smaller values are durations relative to an unknown issue time.
const absoluteExpiryThreshold = 1_000_000_000

const refreshFlightKey = "refresh"

type refreshOutcome struct {
	bundle Bundle
	state  RefreshState
	err    error
}

// EnsureValidSession runs the refresh protocol. It is what the pipeline calls
// on a 401 from a protected endpoint. Concurrent calls share one refresh.
//
// On RefreshSucceeded a new bundle has been stored; the request that got the
// 401 is not replayed and the caller is expected to retry it. Every other
// state ends the session: the bundle is cleared, the unauthorized handler is
// invoked and the returned error says why.
func (s *Session) EnsureValidSession(ctx context.Context) (RefreshState, error) {
	_, state, err := s.ensureValidSession(ctx, "")
	return state, err
}

// RecoverUnauthorized runs the refresh protocol for a request that was
// rejected while carrying sentToken. If the stored token has already moved
// on, the session counts as refreshed without a network call.
func (s *Session) RecoverUnauthorized(ctx context.Context, sentToken string) (RefreshState, error) {
	_, state, err := s.ensureValidSession(ctx, sentToken)
	return state, err
}

// ensureValidSession is EnsureValidSession for callers that know which access
// token their request carried. Callers that carried the same token share a
// flight; flights run one at a time so a later one sees what an earlier one
// stored. A caller whose ctx ends first gets RefreshInFlight and ctx.Err()
// while the flight carries on.
func (s *Session) ensureValidSession(ctx context.Context, staleToken string) (Bundle, RefreshState, error) {
	ch := s.refreshGroup.DoChan(refreshFlightKey+":"+staleToken, func() (any, error) {
		s.refreshMu.Lock()
		defer s.refreshMu.Unlock()
		// the refresh outlives any single caller
		return s.runRefresh(context.WithoutCancel(ctx), staleToken), nil
	})
	select {
	case res := <-ch:
		out := res.Val.(*refreshOutcome)
		return out.bundle, out.state, out.err
	case <-ctx.Done():
		s.logger.DebugContext(ctx, "stopped waiting for session refresh", "error", ctx.Err())
		return Bundle{}, RefreshInFlight, ctx.Err()
	}
}

func (s *Session) runRefresh(ctx context.Context, staleToken string) (out *refreshOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "session refresh panicked", "panic", r)
			out = s.endSession(ctx, RefreshFailed, fmt.Errorf("refresh panicked: %v", r))
		}
	}()

	current := s.store.LoadBundle(ctx)
	if staleToken != "" && current.AccessToken != "" && current.AccessToken != staleToken {
		s.logger.DebugContext(ctx, "session was already refreshed by another request")
		return &refreshOutcome{bundle: current, state: RefreshSucceeded}
	}

	if !current.HasRefreshToken() {
		return s.endSession(ctx, NoRefreshToken, ErrNoRefreshToken)
	}
	if s.refreshTokenExpired(current) {
		return s.endSession(ctx, RefreshTokenExpired, ErrRefreshTokenExpired)
	}

	s.logger.InfoContext(ctx, "refreshing session", "state", RefreshInFlight)
	next, err := s.requestRefresh(ctx, current)
	if err != nil {
		s.logger.WarnContext(ctx, "session refresh failed", "error", err)
		return s.endSession(ctx, RefreshFailed, err)
	}

	if !s.store.SaveBundle(ctx, next) {
		s.logger.WarnContext(ctx, "refreshed credentials were not persisted")
	}
	s.logger.InfoContext(ctx, "session refreshed", "state", RefreshSucceeded)
	return &refreshOutcome{bundle: next, state: RefreshSucceeded}
}

// endSession clears the credentials and fires the unauthorized handler.
func (s *Session) endSession(ctx context.Context, state RefreshState, err error) *refreshOutcome {
	s.logger.InfoContext(ctx, "session ended", "state", state, "reason", err)
	s.store.ClearBundle(ctx)
	s.unauthorized.notify(ctx)
	return &refreshOutcome{state: state, err: err}
}

// refreshTokenExpired prefers the token's own exp claim and falls back to the
// stored expiry when that is an absolute timestamp. Anything else is left to
// the server.
func (s *Session) refreshTokenExpired(b Bundle) bool {
	if claims, err := s.inspector.Decode(b.RefreshToken); err == nil && claims.ExpiresAt != 0 {
		return s.inspector.expired(claims.ExpiresAt)
	}
	if v, err := strconv.ParseInt(b.RefreshTokenExpiry, 10, 64); err == nil && v >= absoluteExpiryThreshold {
		return s.inspector.expired(v)
	}
	return false
}

// requestRefresh calls the refresh endpoint on the base transport so the
// pipeline never sees its own refresh traffic.
func (s *Session) requestRefresh(ctx context.Context, current Bundle) (Bundle, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": current.RefreshToken})
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(PathRefreshToken), bytes.NewReader(payload))
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpClient := &http.Client{Transport: s.baseTransport, Timeout: s.timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: reading refresh response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Description != "" {
			return Bundle{}, fmt.Errorf("%w: HTTP %d: %s", ErrRefreshRejected, resp.StatusCode, apiErr.Description)
		}
		return Bundle{}, fmt.Errorf("%w: HTTP %d", ErrRefreshRejected, resp.StatusCode)
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Bundle{}, fmt.Errorf("%w: invalid response: %v", ErrRefreshRejected, err)
	}
	if tr.AccessToken == "" {
		return Bundle{}, fmt.Errorf("%w: response has no access token", ErrRefreshRejected)
	}

	next := tr.Bundle()
	// servers that do not rotate refresh tokens omit them
	if tr.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if tr.RefreshExpiresIn == 0 {
		next.RefreshTokenExpiry = current.RefreshTokenExpiry
	}
	return next, nil
}
