package grpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/lmsapp/lmsauth/client"
)

// PerRPCCredentials attaches the session's bearer token to every call.
type PerRPCCredentials struct {
	source     oauth2.TokenSource
	requireTLS bool
}

var _ credentials.PerRPCCredentials = (*PerRPCCredentials)(nil)

// NewPerRPCCredentials wraps ts, usually client.Session.TokenSource. Set
// requireTLS to false only for local development over plaintext.
func NewPerRPCCredentials(ts oauth2.TokenSource, requireTLS bool) *PerRPCCredentials {
	return &PerRPCCredentials{source: ts, requireTLS: requireTLS}
}

// GetRequestMetadata implements credentials.PerRPCCredentials
func (c *PerRPCCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, err := c.source.Token()
	if err != nil {
		if errors.Is(err, client.ErrNoSession) {
			// anonymous call; the server decides whether that is acceptable
			return map[string]string{}, nil
		}
		return nil, status.Error(codes.Unauthenticated, fmt.Sprintf("session unavailable: %v", err))
	}
	if rec, ok := ctx.Value(sentTokenKey{}).(*sentToken); ok {
		rec.set(tok.AccessToken)
	}
	return map[string]string{DefaultMetadataKeyAuthorization: tok.Type() + " " + tok.AccessToken}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials
func (c *PerRPCCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}

// ErrSessionRefreshed marks an Unauthenticated error after which the
// session was refreshed. The call can be retried.
var ErrSessionRefreshed = errors.New("session refreshed, retry the call")

// SessionRefreshed reports whether err is an Unauthenticated error that the
// client interceptor already recovered from.
func SessionRefreshed(err error) bool {
	return errors.Is(err, ErrSessionRefreshed)
}

// Refresher runs the session refresh protocol for a call rejected while
// carrying sentToken. client.Session satisfies it.
type Refresher interface {
	RecoverUnauthorized(ctx context.Context, sentToken string) (client.RefreshState, error)
}

// UnaryClientInterceptor maps codes.Unauthenticated onto the refresh
// protocol. Like the HTTP pipeline it does not replay the call: the original
// status comes back, marked with ErrSessionRefreshed when the caller can
// retry. The token sent is the one PerRPCCredentials attached to the call.
func UnaryClientInterceptor(refresher Refresher) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		sent := &sentToken{}
		err := invoker(context.WithValue(ctx, sentTokenKey{}, sent), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}
		// terminal states already cleared the session and notified
		state, _ := refresher.RecoverUnauthorized(ctx, sent.get())
		if state == client.RefreshSucceeded {
			return &refreshedError{err: err}
		}
		return err
	}
}

// refreshedError keeps the original status visible to status.Code and
// status.FromError.
type refreshedError struct {
	err error
}

func (e *refreshedError) Error() string { return e.err.Error() }
func (e *refreshedError) Unwrap() error { return e.err }
func (e *refreshedError) Is(target error) bool { return target == ErrSessionRefreshed }
func (e *refreshedError) GRPCStatus() *status.Status { return status.Convert(e.err) }

type sentTokenKey struct{}

// sentToken records the access token PerRPCCredentials attached to a call.
type sentToken struct {
	mu    sync.Mutex
	value string
}

func (s *sentToken) set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

func (s *sentToken) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}
