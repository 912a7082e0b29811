// Package server exposes MedAlert's gRPC health endpoint.
package server

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service name reported alongside the
// overall ("") status.
const ServiceName = "medalert.v1.MedAlert"

// HealthServer runs grpc.health.v1.Health for load balancer and
// orchestrator probes.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewHealthServer creates a server reporting NOT_SERVING until SetServing is called.
func NewHealthServer(logger *zap.Logger) *HealthServer {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	// Enable reflection for debugging with grpcurl
	reflection.Register(gs)

	s := &HealthServer{grpc: gs, health: hs, logger: logger}
	s.SetServing(false)
	return s
}

// SetServing updates the reported status for both the overall server and ServiceName.
func (s *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve blocks serving on lis until Shutdown.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Shutdown reports NOT_SERVING to watchers, then stops gracefully.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Monitor runs check every interval and reports its result as the serving
// status until ctx is done. The first check runs immediately.
func (s *HealthServer) Monitor(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		err := check(checkCtx)
		cancel()

		if err != nil && healthy {
			s.logger.Warn("readiness check failed", zap.Error(err))
		} else if err == nil && !healthy {
			s.logger.Info("readiness check recovered")
		}
		healthy = err == nil
		s.SetServing(healthy)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
