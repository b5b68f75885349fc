// Package grpc carries lmsauth bearer tokens over gRPC: per-RPC credentials
// and a refresh-aware client interceptor for callers, auth interceptors and
// subject helpers for services.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeySubject forwards an already authenticated username
	// between trusted services.
	DefaultMetadataKeySubject = "x-lms-subject"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeySubject defaults to "x-lms-subject".
	MetadataKeySubject string

	// TrustForwardedSubject accepts MetadataKeySubject without a bearer token.
	// Only for services that sit behind an authenticating gateway.
	TrustForwardedSubject bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeySubject:       DefaultMetadataKeySubject,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeySubject == "" {
		c.MetadataKeySubject = DefaultMetadataKeySubject
	}
}

type subjectKey struct{}

// ContextWithSubject records the authenticated username on ctx.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the username set by the auth interceptors,
// or "" for anonymous calls.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// IsAuthenticated returns true if the interceptors authenticated the call.
func IsAuthenticated(ctx context.Context) bool {
	return SubjectFromContext(ctx) != ""
}

// SubjectToOutgoingContext forwards subject to a downstream service.
func SubjectToOutgoingContext(ctx context.Context, subject string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySubject, subject)
}

// BearerFromIncomingContext extracts the bearer token from incoming metadata.
func BearerFromIncomingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	scheme, token, found := strings.Cut(values[0], " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func forwardedSubject(ctx context.Context, config *Config) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeySubject); len(values) > 0 {
		return values[0]
	}
	return ""
}
