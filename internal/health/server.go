package health

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/KevinKickass/OpenSkyCam/internal/scheduler"
)

const servicePrefix = "allsky."

// ServiceName is the health service reported for a camera role.
func ServiceName(role string) string {
	return servicePrefix + role
}

// Server exposes grpc.health.v1 with one service per camera role. A role
// is SERVING while its last iteration succeeded.
type Server struct {
	port   int
	grpc   *grpc.Server
	health *grpchealth.Server
	logger *zap.Logger
}

func NewServer(port int, roles []string, logger *zap.Logger) *Server {
	hs := grpchealth.NewServer()
	for _, role := range roles {
		// unknown until the first iteration
		hs.SetServingStatus(ServiceName(role), healthpb.HealthCheckResponse_UNKNOWN)
	}

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		port:   port,
		grpc:   gs,
		health: hs,
		logger: logger,
	}
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	go func() {
		s.logger.Info("gRPC health server listening", zap.String("address", lis.Addr().String()))
		if err := s.grpc.Serve(lis); err != nil {
			s.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

// IterationComplete updates the role's status from a scheduler result.
// Iterations that failed before a camera was chosen only affect the
// overall status.
func (s *Server) IterationComplete(res scheduler.Result) {
	status := healthpb.HealthCheckResponse_SERVING
	if !res.OK() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", status)
	if res.Role != "" {
		s.health.SetServingStatus(ServiceName(res.Role), status)
	}
}

// Stop marks everything NOT_SERVING and stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
