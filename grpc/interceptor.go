package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TokenVerifier validates an access token and returns its subject.
type TokenVerifier func(ctx context.Context, token string) (subject string, err error)

// InterceptorConfig configures the server auth interceptors.
type InterceptorConfig struct {
	*Config

	// VerifyToken validates bearer tokens. Required unless every call is
	// public or TrustForwardedSubject is set.
	VerifyToken TokenVerifier

	// RequireAuth when true rejects unauthenticated requests.
	RequireAuth bool

	// PublicMethods don't require auth. Keys are full method names like
	// "/lms.Catalog/ListClasses".
	PublicMethods map[string]bool

	Logger *slog.Logger
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(verify TokenVerifier) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		VerifyToken:   verify,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(verify TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(verify)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verify TokenVerifier) *InterceptorConfig {
	config := DefaultInterceptorConfig(verify)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) normalize() *InterceptorConfig {
	if c == nil {
		c = DefaultInterceptorConfig(nil)
	}
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates
// the bearer token and stores the subject on the context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.normalize()

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that processes auth metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.normalize()

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	subject := ""
	if token := BearerFromIncomingContext(ctx, config.Config); token != "" && config.VerifyToken != nil {
		sub, err := config.VerifyToken(ctx, token)
		if err != nil {
			config.Logger.InfoContext(ctx, "rejected bearer token", "method", method, "error", err)
			// a bad token is never silently downgraded to anonymous
			return ctx, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		subject = sub
	}
	if subject == "" && config.TrustForwardedSubject {
		subject = forwardedSubject(ctx, config.Config)
	}

	if subject == "" && config.RequireAuth && !config.PublicMethods[method] {
		return ctx, status.Error(codes.Unauthenticated, "authentication required")
	}
	if subject != "" {
		ctx = ContextWithSubject(ctx, subject)
	}
	return ctx, nil
}

// authedStream overrides the stream context with the authenticated one.
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}
