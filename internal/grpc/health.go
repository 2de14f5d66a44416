// Package grpc exposes grpc.health.v1 for orchestrators and peer services.
// Serving status follows the reachability of the store.
package grpc

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the service a health check may name explicitly; the empty
// name asks about the server as a whole.
const ServiceName = "devicehub"

const pingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthServer struct {
	healthpb.UnimplementedHealthServer
	store Pinger
	log   zerolog.Logger
}

func NewHealthServer(store Pinger, log zerolog.Logger) *HealthServer {
	return &HealthServer{store: store, log: log}
}

func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != ServiceName {
		return nil, status.Error(codes.NotFound, "unknown_service")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health check: store unreachable")
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewServer builds a gRPC server with the health service behind the
// service-token interceptors.
func NewServer(store Pinger, serviceToken string, log zerolog.Logger) (*grpc.Server, error) {
	unary, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	stream, err := NewServiceAuthStreamInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(grpc.UnaryInterceptor(unary), grpc.StreamInterceptor(stream))
	healthpb.RegisterHealthServer(server, NewHealthServer(store, log))
	return server, nil
}
