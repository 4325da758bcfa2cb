package api

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthServer serves the standard gRPC health-checking protocol so
// orchestrators can probe the agent without a bespoke RPC surface. It
// uses grpc-go's pre-generated health service rather than a
// hand-written proto message, since no protoc step is available here.
type GRPCHealthServer struct {
	server     *grpc.Server
	healthSrv  *health.Server
	listenAddr string
	logger     *log.Logger
}

// NewGRPCHealthServer builds a gRPC server exposing health.Server on
// addr, reporting everything as SERVING until told otherwise.
func NewGRPCHealthServer(addr string, logger *log.Logger) *GRPCHealthServer {
	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	return &GRPCHealthServer{
		server:     grpcServer,
		healthSrv:  healthSrv,
		listenAddr: addr,
		logger:     logger,
	}
}

// SetServing marks the named service (empty string means the whole
// server) as serving or not serving.
func (s *GRPCHealthServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.healthSrv.SetServingStatus(service, status)
}

// ListenAndServe binds listenAddr and blocks serving gRPC health
// checks.
func (s *GRPCHealthServer) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Printf("api: grpc health server starting on %s", s.listenAddr)
	}
	return s.server.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *GRPCHealthServer) Stop() {
	s.server.GracefulStop()
}
