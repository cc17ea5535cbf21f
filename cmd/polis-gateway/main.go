// Package main is the entry point for the polis-gateway daemon.
// It reconciles the TLS artifacts and serves the node RPC surface over
// mutually authenticated gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-gateway/internal/forwarder"
	"github.com/polisai/polis-gateway/internal/gateway"
	gwtls "github.com/polisai/polis-gateway/internal/tls"
	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/logging"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-gateway
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-gateway",
		Short: "Mutual TLS gateway for the node RPC interface",
		Long: `Serves the node's RPC interface over gRPC with mutual TLS.

On start the gateway makes sure its artifact directory holds a CA, a server
certificate and a client certificate, creating only what is missing. Clients
authenticate with client.pem/client-key.pem and trust ca.pem.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")

	rootCmd.AddCommand(newServeCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "polis-gateway version %s\n", version)
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Reconcile TLS artifacts and serve RPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.SetupLogger(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})
			return runServe(ctx, cfg, logger, nil)
		},
	}

	flags := cmd.Flags()
	flags.String("network", "", "Network name; artifacts live in <data-dir>/<network>")
	flags.String("data-dir", "", "Base data directory")
	flags.String("listen", "", "gRPC listen address (host:port)")
	flags.String("server-name", "", "Name clients verify in the server certificate")
	flags.String("admin-listen", "", "Admin HTTP listen address for /metrics and /healthz")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, text, pretty)")
	return cmd
}

// loadConfig reads the config file and applies flags that were set
// explicitly on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"network":      &cfg.Network,
		"data-dir":     &cfg.DataDir,
		"listen":       &cfg.GRPC.Listen,
		"server-name":  &cfg.GRPC.ServerName,
		"admin-listen": &cfg.Admin.Listen,
		"log-level":    &cfg.Logging.Level,
		"log-format":   &cfg.Logging.Format,
	}
	for name, dst := range overrides {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		*dst = flag.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// runServe reconciles the bundle, then serves until ctx is cancelled or the
// listener fails. started, when non-nil, receives the bound gRPC address.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, started func(net.Addr)) error {
	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Environment:    cfg.Network,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	tlsLogger := gwtls.NewTLSLogger(logger)
	tlsMetrics, err := gwtls.GetTLSMetricsCollector(logger)
	if err != nil {
		return fmt.Errorf("failed to initialize TLS metrics collector: %w", err)
	}

	store, err := gateway.NewArtifactStore(cfg, tlsLogger, tlsMetrics)
	if err != nil {
		return err
	}
	bundle, err := store.Reconcile(ctx)
	if err != nil {
		logger.Error("TLS artifacts could not be reconciled",
			"dir", store.Dir(),
			"error", err,
			"suggestions", gwtls.GetRecoverySuggestions(err))
		return err
	}
	tlsLogger.LogBundleReady(ctx, bundle, cfg.GRPC.ServerName)
	tlsMetrics.RecordBundleExpiry(ctx, bundle)

	router := forwarder.NewRouter(nil)
	gateway.RegisterBuiltins(router, gateway.NodeInfo{
		Network:    cfg.Network,
		Version:    version,
		ServerName: cfg.GRPC.ServerName,
		Bundle:     bundle,
	})
	fwd := forwarder.New(router, forwarder.Options{
		Service: cfg.GRPC.Service,
		Logger:  logger,
	})

	metrics := gateway.NewMetrics()
	server, err := gateway.New(gateway.Config{
		ServerName:       cfg.GRPC.ServerName,
		HandshakeTimeout: cfg.GRPC.HandshakeTimeout.Std(),
	}, bundle, fwd, gateway.Options{
		Logger:     logger,
		Metrics:    metrics,
		TLSMetrics: tlsMetrics,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx, cfg.GRPC.Listen); err != nil {
		return err
	}

	var admin *gateway.AdminServer
	if cfg.Admin.Listen != "" {
		admin = gateway.NewAdminServer(metrics, bundle, cfg.GRPC.ServerName, version, func() bool {
			select {
			case <-server.Done():
				return false
			default:
				return true
			}
		}, logger)
		if err := admin.Start(ctx, cfg.Admin.Listen); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Stop(stopCtx)
			return err
		}
	}

	if started != nil {
		started(server.Addr())
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-server.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if admin != nil {
		errs = append(errs, admin.Shutdown(stopCtx))
	}
	errs = append(errs, server.Stop(stopCtx), server.Err())

	logger.Info("Gateway stopped")
	return errors.Join(errs...)
}
