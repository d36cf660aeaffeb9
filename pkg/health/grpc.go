package health

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer returns a gRPC server exposing grpc.health.v1.Health backed by c
func NewGRPCServer(c *Checker) *grpc.Server {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, c.GRPCServer())
	reflection.Register(srv)
	return srv
}
