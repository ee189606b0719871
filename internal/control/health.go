// Package control exposes the orchestrator's liveness over the standard gRPC health protocol.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/denniswon/modular-trading-agent/internal/engine"
)

// ServiceName is the overall service reported alongside the per-symbol entries.
const ServiceName = "trading.Orchestrator"

const maxRecvMsgSize = 4 * 1024 * 1024

// SymbolService returns the health service name used for one symbol.
func SymbolService(symbol string) string {
	return ServiceName + "/" + symbol
}

// Server serves grpc.health.v1 for the orchestrator and each of its symbols.
type Server struct {
	addr   string
	log    zerolog.Logger
	server *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	running  bool
}

// New builds a health server bound to addr once Start is called.
func New(addr string, log zerolog.Logger) *Server {
	srv := grpc.NewServer(grpc.MaxRecvMsgSize(maxRecvMsgSize))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &Server{
		addr:   addr,
		log:    log.With().Str("component", "control").Logger(),
		server: srv,
		health: hs,
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.addr, err)
	}
	s.listener = lis
	s.running = true
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error().Err(err).Msg("grpc serve exited")
		}
	}()
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health service started")
	return nil
}

// Addr reports the bound listener address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// SetSymbol marks a symbol serving or not serving.
func (s *Server) SetSymbol(symbol string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !serving {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(SymbolService(symbol), status)
}

// Hook reports suspended and stopped symbols as NOT_SERVING and everything else as SERVING.
func (s *Server) Hook() engine.TransitionHook {
	return func(t engine.Transition) {
		switch t.To {
		case engine.StageSuspended, engine.StageStopped:
			s.SetSymbol(t.Symbol, false)
		case engine.StageIdle, engine.StageFetching:
			s.SetSymbol(t.Symbol, true)
		}
	}
}

// Stop drains in-flight RPCs, forcing the server down if ctx expires first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-ctx.Done():
		s.log.Warn().Msg("grpc graceful shutdown timed out, forcing stop")
		s.server.Stop()
	case <-done:
	}
	s.log.Info().Msg("grpc health service stopped")
	return nil
}
