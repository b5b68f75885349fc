package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func verifyFixed(ctx context.Context, token string) (string, error) {
	if token == "good" {
		return "alice", nil
	}
	return "", errors.New("bad token")
}

func bearerContext(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig(verifyFixed)
	assert.True(t, config.RequireAuth)
	assert.NotNil(t, config.PublicMethods)
	assert.NotNil(t, config.Config)

	assert.False(t, OptionalAuthConfig(verifyFixed).RequireAuth)
	public := NewPublicMethodsConfig(verifyFixed, "/lms.Catalog/ListClasses")
	assert.True(t, public.PublicMethods["/lms.Catalog/ListClasses"])
	assert.False(t, public.PublicMethods["/lms.Catalog/ListCourses"])
}

func TestUnaryAuthInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/lms.Catalog/ListCourses"}

	tests := []struct {
		name     string
		config   *InterceptorConfig
		ctx      context.Context
		method   string
		wantCode codes.Code
		wantSub  string
	}{
		{"valid token", DefaultInterceptorConfig(verifyFixed), bearerContext("good"), info.FullMethod, codes.OK, "alice"},
		{"invalid token", DefaultInterceptorConfig(verifyFixed), bearerContext("bad"), info.FullMethod, codes.Unauthenticated, ""},
		{"invalid token on optional auth", OptionalAuthConfig(verifyFixed), bearerContext("bad"), info.FullMethod, codes.Unauthenticated, ""},
		{"no token", DefaultInterceptorConfig(verifyFixed), context.Background(), info.FullMethod, codes.Unauthenticated, ""},
		{"no token optional", OptionalAuthConfig(verifyFixed), context.Background(), info.FullMethod, codes.OK, ""},
		{"public method", NewPublicMethodsConfig(verifyFixed, "/lms.Catalog/ListClasses"), context.Background(), "/lms.Catalog/ListClasses", codes.OK, ""},
		{"nil config rejects", nil, bearerContext("good"), info.FullMethod, codes.Unauthenticated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := UnaryAuthInterceptor(tt.config)
			var gotSub string
			called := false
			_, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method},
				func(ctx context.Context, req interface{}) (interface{}, error) {
					called = true
					gotSub = SubjectFromContext(ctx)
					return "ok", nil
				})
			assert.Equal(t, tt.wantCode, status.Code(err))
			assert.Equal(t, tt.wantCode == codes.OK, called)
			assert.Equal(t, tt.wantSub, gotSub)
		})
	}
}

func TestUnaryAuthInterceptor_ForwardedSubject(t *testing.T) {
	md := metadata.Pairs(DefaultMetadataKeySubject, "bob")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/lms.Catalog/ListCourses"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return SubjectFromContext(ctx), nil
	}

	_, err := UnaryAuthInterceptor(DefaultInterceptorConfig(verifyFixed))(ctx, nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	config := DefaultInterceptorConfig(verifyFixed)
	config.TrustForwardedSubject = true
	got, err := UnaryAuthInterceptor(config)(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "bob", got)
}

// mockServerStream implements grpc.ServerStream for testing
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context {
	return m.ctx
}

func TestStreamAuthInterceptor(t *testing.T) {
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(verifyFixed))
	info := &grpc.StreamServerInfo{FullMethod: "/lms.Progress/Watch"}

	var gotSub string
	err := interceptor(nil, &mockServerStream{ctx: bearerContext("good")}, info,
		func(srv interface{}, stream grpc.ServerStream) error {
			gotSub = SubjectFromContext(stream.Context())
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "alice", gotSub)

	err = interceptor(nil, &mockServerStream{ctx: context.Background()}, info,
		func(srv interface{}, stream grpc.ServerStream) error {
			t.Error("handler should not be called")
			return nil
		})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
