package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HeaderSessionRefreshed is set on a 401 response after the pipeline has
// obtained new credentials for it. The caller can retry the request.
const HeaderSessionRefreshed = "X-Session-Refreshed"

// SessionRefreshed reports whether resp is a 401 that the pipeline already
// recovered from by refreshing the session.
func SessionRefreshed(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderSessionRefreshed) == "true"
}

// Transport is the auth pipeline. Outgoing requests to protected API
// endpoints get the stored bearer token; a 401 from one of them triggers the
// refresh protocol and a 401 from an auth-boundary endpoint ends the session.
// Requests to other hosts pass through untouched.
type Transport struct {
	session *Session
	base    http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req, sent := t.injectAuth(req)

	resp, err := t.transport().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	return t.handleResponse(req, sent, resp)
}

func (t *Transport) transport() http.RoundTripper {
	if t.base == nil {
		return http.DefaultTransport
	}
	return t.base
}

// injectAuth returns the request to send and the access token it carries.
func (t *Transport) injectAuth(req *http.Request) (*http.Request, string) {
	b := t.session.boundary
	if !b.sameOrigin(req.URL) || b.contains(req.URL) {
		return req, ""
	}

	token, ok := t.session.store.Get(req.Context(), KeyToken)
	if !ok {
		return req, ""
	}

	// Clone the request to avoid mutating the original
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+token)
	return req2, token
}

func (t *Transport) handleResponse(req *http.Request, sent string, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	ctx := req.Context()
	s := t.session
	if !s.boundary.sameOrigin(req.URL) {
		return resp, nil
	}

	if s.boundary.contains(req.URL) {
		s.logger.InfoContext(ctx, "auth endpoint rejected request", "path", req.URL.Path)
		s.unauthorized.notify(ctx)
		return resp, nil
	}

	bundle, state, err := t.refresh(ctx, sent)
	if state.Terminal() {
		s.logger.InfoContext(ctx, "request unauthorized and session could not be refreshed",
			"path", req.URL.Path, "state", state, "error", err)
		return resp, nil
	}
	if state != RefreshSucceeded {
		s.logger.DebugContext(ctx, "request gave up before the refresh finished",
			"path", req.URL.Path, "state", state, "error", err)
		return resp, nil
	}

	if s.retryAfterRefresh {
		if retry, ok := authorizedCopy(req, bundle.AccessToken, true); ok {
			drain(resp)
			return t.transport().RoundTrip(retry)
		}
	}

	resp.Header.Set(HeaderSessionRefreshed, "true")
	if informational, ok := authorizedCopy(req, bundle.AccessToken, false); ok {
		resp.Request = informational
	}
	return resp, nil
}

// refresh runs the protocol and turns any panic on the way into a failed
// refresh that still notifies the handler.
func (t *Transport) refresh(ctx context.Context, sent string) (b Bundle, state RefreshState, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.session.logger.ErrorContext(ctx, "refresh handling panicked", "panic", r)
			t.session.unauthorized.notify(ctx)
			b, state, err = Bundle{}, RefreshFailed, fmt.Errorf("refresh handling panicked: %v", r)
		}
	}()
	return t.session.ensureValidSession(ctx, sent)
}

// authorizedCopy clones req with a new bearer token. When withBody is set the
// body is rewound through GetBody; requests whose body cannot be replayed are
// not copied.
func authorizedCopy(req *http.Request, token string, withBody bool) (*http.Request, bool) {
	if token == "" {
		return nil, false
	}
	next := req.Clone(req.Context())
	if withBody && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, false
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, false
		}
		next.Body = body
	}
	next.Header.Set("Authorization", "Bearer "+token)
	return next, true
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
