package main

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	lms "github.com/lmsapp/lmsauth"
	lmsgrpc "github.com/lmsapp/lmsauth/grpc"
)

// newGRPCServer serves the health service behind the bearer interceptors.
// Check stays public for load balancers; Watch needs an access token.
func newGRPCServer(app *lms.Server, logger *slog.Logger) (*grpc.Server, *health.Server) {
	auth := lmsgrpc.NewPublicMethodsConfig(app.Auth.VerifyToken,
		healthpb.Health_Check_FullMethodName,
		"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
		"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
	)
	auth.Logger = logger

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(lmsgrpc.UnaryAuthInterceptor(auth)),
		grpc.ChainStreamInterceptor(lmsgrpc.StreamAuthInterceptor(auth)),
	)
	hs := health.NewServer()
	hs.SetServingStatus(app.AppName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}
