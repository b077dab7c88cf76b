// Package rpc exposes the rover's state over gRPC. Today that is the standard
// health service: the empty service name reports the process, and each mode
// has its own service that is SERVING only while that mode's loop runs.
package rpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/orchestrator"
)

// ServicePrefix prefixes the per-mode health service names.
const ServicePrefix = "rover.mode."

// ServiceName is the health service reporting mode m.
func ServiceName(m orchestrator.Mode) string {
	return ServicePrefix + m.String()
}

var logf = monitoring.Component("gRPC")

// Health mirrors orchestrator transitions into a grpc health server.
type Health struct {
	srv *health.Server
}

var _ orchestrator.Listener = (*Health)(nil)

// NewHealth returns a health service reporting the rover as idle.
func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.set(orchestrator.ModeIdle)
	return h
}

// OnTransition implements orchestrator.Listener.
func (h *Health) OnTransition(t orchestrator.Transition) {
	h.set(t.To)
}

func (h *Health) set(active orchestrator.Mode) {
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, m := range append([]orchestrator.Mode{orchestrator.ModeIdle}, orchestrator.Modes...) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if m == active {
			status = healthpb.HealthCheckResponse_SERVING
		}
		h.srv.SetServingStatus(ServiceName(m), status)
	}
}

// Shutdown marks every service NOT_SERVING and ignores later transitions.
func (h *Health) Shutdown() { h.srv.Shutdown() }

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Server runs a gRPC server carrying the health service.
type Server struct {
	addr    string
	health  *Health
	server  *grpc.Server
	lis     net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer builds a server that will listen on addr.
func NewServer(addr string, h *Health) *Server {
	return &Server{addr: addr, health: h}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("gRPC server already running")
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.lis = lis
	s.server = grpc.NewServer()
	s.health.Register(s.server)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logf("listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logf("server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address; nil before Start.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Stop marks the services NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	logf("server stopped")
}
