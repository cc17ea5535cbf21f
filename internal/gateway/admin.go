package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	gwtls "github.com/polisai/polis-gateway/internal/tls"
)

// HealthStatus is the body served on /healthz.
type HealthStatus struct {
	Status            string `json:"status"`
	ServerName        string `json:"server_name"`
	CAFingerprint     string `json:"ca_fingerprint"`
	ServerFingerprint string `json:"server_fingerprint"`
	Version           string `json:"version,omitempty"`
}

// AdminServer exposes /metrics and /healthz over plain HTTP. It carries no
// RPC traffic and should be bound to a loopback or management address.
type AdminServer struct {
	server *http.Server
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    func() bool
}

// NewAdminServer builds the admin listener. ready reports whether the gRPC
// gateway is accepting connections.
func NewAdminServer(metrics *Metrics, bundle *gwtls.Bundle, serverName, version string, ready func() bool, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AdminServer{
		logger: logger.With("component", "admin"),
		ready:  ready,
	}

	status := HealthStatus{
		ServerName:        serverName,
		CAFingerprint:     bundle.CAFingerprint(),
		ServerFingerprint: bundle.ServerFingerprint(),
		Version:           version,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := status
		code := http.StatusOK
		body.Status = "serving"
		if a.ready != nil && !a.ready() {
			body.Status = "not_serving"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})

	a.server = &http.Server{
		Handler:           otelhttp.NewHandler(metrics.MetricsMiddleware(mux), "polis.gateway.admin"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a
}

// Start binds addr and serves in the background.
func (a *AdminServer) Start(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return listenError(addr, err)
	}

	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()

	a.logger.Info("Admin server listening", "address", listener.Addr().String())
	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Admin server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (a *AdminServer) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Shutdown stops the admin server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}
