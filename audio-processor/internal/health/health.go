// Package health exposes the processor's liveness over the standard gRPC
// health protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "elevenvoice.AudioProcessor"

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logrus.FieldLogger
}

func NewServer(log logrus.FieldLogger) *Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{grpc: srv, health: hs, log: log}
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the processor status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch runs checks every interval and reports SERVING only while all of
// them pass. It returns when ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration, checks ...Check) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		err := runChecks(ctx, checks)
		if ctx.Err() != nil {
			return
		}
		if err != nil && healthy {
			s.log.WithError(err).Warn("Health check failed")
		}
		if err == nil && !healthy {
			s.log.Info("Health checks recovered")
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

func runChecks(ctx context.Context, checks []Check) error {
	for _, check := range checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.WithField("addr", lis.Addr().String()).Info("gRPC health server listening")
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serving gRPC health: %w", err)
	}
	return nil
}

func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
