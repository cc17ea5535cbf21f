// Package gateway serves the node's RPC surface over mutually authenticated
// gRPC, and an optional plaintext admin listener for metrics and health.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/polisai/polis-gateway/internal/forwarder"
	gwtls "github.com/polisai/polis-gateway/internal/tls"
)

// Config holds the listener parameters.
type Config struct {
	// ServerName is the logical name clients verify against the server
	// certificate.
	ServerName       string
	HandshakeTimeout time.Duration
}

// Options carries the server's collaborators. Nil fields get defaults.
type Options struct {
	Logger     *slog.Logger
	Metrics    *Metrics
	TLSMetrics *gwtls.TLSMetricsCollector
}

// Server is the mutual TLS gRPC gateway. Every connection must present a
// client certificate chaining to the bundle CA; anything else is dropped
// during the handshake.
type Server struct {
	cfg        Config
	bundle     *gwtls.Bundle
	grpcServer *grpc.Server
	health     *health.Server
	metrics    *Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	running  bool
	listener net.Listener
	done     chan struct{}
	serveErr error
}

// New builds a gateway serving fwd with the identities in bundle.
func New(cfg Config, bundle *gwtls.Bundle, fwd *forwarder.Forwarder, opts Options) (*Server, error) {
	if fwd == nil {
		return nil, gwtls.NewConfigMissingError("forwarder")
	}
	if cfg.ServerName == "" {
		cfg.ServerName = gwtls.DefaultServerName
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = gwtls.DefaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.TLSMetrics == nil {
		tlsMetrics, err := gwtls.GetTLSMetricsCollector(opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize TLS metrics collector: %w", err)
		}
		opts.TLSMetrics = tlsMetrics
	}

	tlsConfig, err := gwtls.BuildServerConfig(bundle, cfg.ServerName)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		bundle:  bundle,
		health:  health.NewServer(),
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "gateway"),
	}

	creds := gwtls.NewServerCredentials(tlsConfig, gwtls.NewTLSLogger(opts.Logger), opts.TLSMetrics, cfg.HandshakeTimeout)
	s.grpcServer = grpc.NewServer(
		grpc.Creds(creds),
		grpc.ConnectionTimeout(cfg.HandshakeTimeout),
		fwd.ServerOption(),
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(fwd.Service(), healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	s.metrics.SetBundleInfo(cfg.ServerName, bundle.CAFingerprint(), bundle.ServerFingerprint())
	return s, nil
}

// Start binds addr and serves in the background. The bundle has already been
// reconciled, so nothing on the filesystem is touched from here on.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return gwtls.NewServerStartupError("server already running", fmt.Errorf("gateway is already running"))
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return listenError(addr, err)
	}

	s.listener = listener
	s.running = true
	s.done = make(chan struct{})
	s.health.Resume()

	s.logger.LogAttrs(ctx, slog.LevelInfo, "Gateway listening",
		slog.String("event", "gateway_listening"),
		slog.String("address", listener.Addr().String()),
		slog.String("server_name", s.cfg.ServerName),
	)

	go s.serve(listener, s.done)
	return nil
}

func (s *Server) serve(listener net.Listener, done chan struct{}) {
	defer close(done)

	err := s.grpcServer.Serve(listener)
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		s.logger.Error("Gateway stopped serving", "error", err)
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
	}
}

func listenError(addr string, err error) *gwtls.TLSError {
	tlsErr := gwtls.NewListenerCreateError(addr, err)
	switch {
	case strings.Contains(err.Error(), "address already in use"):
		return tlsErr.
			WithSuggestion("Check if another process is using this port").
			WithSuggestion("Use 'ss -tlnp' to find the process")
	case strings.Contains(err.Error(), "permission denied"):
		return tlsErr.
			WithSuggestion("Ports below 1024 typically require root privileges")
	default:
		return tlsErr.WithSuggestion("Check the address format is correct")
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed once the server stops serving.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err reports why serving ended, if it ended abnormally.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Stop drains in-flight calls until ctx expires, then closes everything.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.done
	s.mu.Unlock()

	s.health.Shutdown()
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Stopping gateway", slog.String("event", "gateway_stopping"))

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		<-done
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-stopped
		<-done
		return ctx.Err()
	}
}
