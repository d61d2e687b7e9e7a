// Package health exposes the analysis scheduler's state through the standard
// gRPC health checking protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/bledoubt/internal/monitoring"
	"github.com/banshee-data/bledoubt/internal/timeutil"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported for the analysis scheduler. The empty service
// name reports the same status.
const Service = "bledoubt.Analysis"

// Checker reports whether analysis is healthy, usually
// func() bool { return controller.Status().IsHealthy }.
type Checker func() bool

// Server publishes Checker's result as SERVING or NOT_SERVING.
type Server struct {
	check    Checker
	health   *grpchealth.Server
	clock    timeutil.Clock
	interval time.Duration
}

// NewServer polls check every interval.
func NewServer(check Checker, interval time.Duration, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Server{
		check:    check,
		health:   grpchealth.NewServer(),
		clock:    clock,
		interval: interval,
	}
	s.Update()
	return s
}

// Register adds the health service to g.
func (s *Server) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.health)
}

// Update sets the serving status from the checker.
func (s *Server) Update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.check() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	return status
}

// Watch refreshes the status every interval until ctx is done, then marks
// every service NOT_SERVING.
func (s *Server) Watch(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	last := s.Update()
	for {
		select {
		case <-ticker.C():
			if status := s.Update(); status != last {
				monitoring.Logf("health: analysis status %s -> %s", last, status)
				last = status
			}
		case <-ctx.Done():
			s.health.Shutdown()
			return
		}
	}
}

// Serve listens on addr and serves the health service until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	g := grpc.NewServer()
	s.Register(g)

	go s.Watch(ctx)
	go func() {
		<-ctx.Done()
		g.GracefulStop()
	}()

	monitoring.Logf("health: gRPC server listening on %s", lis.Addr())
	if err := g.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
