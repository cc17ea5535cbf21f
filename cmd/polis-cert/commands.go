package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-gateway/internal/forwarder"
	"github.com/polisai/polis-gateway/internal/gateway"
	gwtls "github.com/polisai/polis-gateway/internal/tls"
	"github.com/polisai/polis-gateway/pkg/logging"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Create whatever artifacts are missing and leave the rest untouched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(logging.Config{
				Level:  cfg.Logging.Level,
				Format: "pretty",
				Output: cmd.ErrOrStderr(),
			})

			store, err := gateway.NewArtifactStore(cfg, gwtls.NewTLSLogger(logger), nil)
			if err != nil {
				return err
			}
			present, err := store.Probe()
			if err != nil {
				return err
			}
			state := gwtls.DetectState(present)
			plan := gwtls.PlanFor(state)

			bundle, err := store.Reconcile(cmd.Context())
			if err != nil {
				for _, s := range gwtls.GetRecoverySuggestions(err) {
					fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s\n", s)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Artifacts in %s\n", store.Dir())
			fmt.Fprintf(out, "  State: %s\n", state)
			fmt.Fprintf(out, "  Action: %s\n", plan)
			fmt.Fprintf(out, "  CA fingerprint: %s\n", bundle.CAFingerprint())
			fmt.Fprintf(out, "  Server fingerprint: %s\n", bundle.ServerFingerprint())
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [cert.pem...]",
		Short: "Show certificate details for the artifact directory or the given files",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}
			if format != "text" && format != "json" {
				return fmt.Errorf("unsupported format %q, use text or json", format)
			}

			inspector := gwtls.NewCertificateInspector()
			out := cmd.OutOrStdout()

			if len(args) > 0 {
				infos := make([]*gwtls.DetailedCertificateInfo, 0, len(args))
				for _, path := range args {
					info, err := inspector.InspectCertificateFile(path)
					if err != nil {
						return err
					}
					infos = append(infos, info)
				}
				if format == "json" {
					return writeJSON(out, infos)
				}
				for _, info := range infos {
					printCertificateText(out, info)
				}
				return nil
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			report, err := inspector.InspectBundle(cfg.ArtifactDir())
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(out, newBundleJSON(report))
			}
			printBundleText(out, report)
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", "text", "Output format: text, json")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the artifact directory holds a complete, consistent bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			report, err := gwtls.NewCertificateInspector().InspectBundle(cfg.ArtifactDir())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.State != gwtls.StateComplete {
				fmt.Fprintf(out, "❌ Bundle in %s is incomplete: %s\n", report.Dir, report.State)
				return fmt.Errorf("bundle incomplete: %s", report.State)
			}
			var expired []string
			for _, f := range []gwtls.ArtifactFile{gwtls.ArtifactCACert, gwtls.ArtifactServerCert, gwtls.ArtifactClientCert} {
				if err := gwtls.ValidateCertificateFile(f.Path(report.Dir)); err != nil {
					fmt.Fprintf(out, "❌ %s: %v\n", f.Name(), err)
					expired = append(expired, f.Name())
				}
			}
			if len(expired) > 0 {
				return fmt.Errorf("bundle has certificates outside their validity period: %s", strings.Join(expired, ", "))
			}
			if !report.ChainValid {
				fmt.Fprintf(out, "❌ Bundle in %s is inconsistent: %s\n", report.Dir, report.ChainError)
				return fmt.Errorf("bundle inconsistent: %s", report.ChainError)
			}
			fmt.Fprintf(out, "✅ Bundle in %s is valid\n", report.Dir)
			fmt.Fprintf(out, "  CA fingerprint: %s\n", report.CAFingerprint)
			fmt.Fprintf(out, "  Server fingerprint: %s\n", report.ServerFingerprint)
			return nil
		},
	}
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Invoke a gateway method using the client certificate from the artifact directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return fmt.Errorf("failed to get addr flag: %w", err)
			}
			if addr == "" {
				addr = cfg.GRPC.Listen
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return fmt.Errorf("failed to get timeout flag: %w", err)
			}

			var params map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("params must be a JSON object: %w", err)
				}
			}

			tlsConfig, err := gwtls.ClientFilesFromDir(cfg.ArtifactDir(), cfg.GRPC.ServerName).Build()
			if err != nil {
				return err
			}
			client, err := forwarder.Dial(addr, cfg.GRPC.Service, tlsConfig)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := client.Call(ctx, args[0], params)
			if err != nil {
				return fmt.Errorf("call %s: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().String("addr", "", "Gateway address (defaults to grpc.listen)")
	cmd.Flags().Duration("timeout", 10*time.Second, "Call timeout")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report bundle state changes in the artifact directory until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(logging.Config{
				Level:  cfg.Logging.Level,
				Format: "pretty",
				Output: cmd.ErrOrStderr(),
			})

			watcher, err := gwtls.NewArtifactWatcher(cfg.ArtifactDir(), gwtls.NewTLSLogger(logger))
			if err != nil {
				return err
			}
			defer watcher.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s\n", cfg.ArtifactDir())
			updates := watcher.Subscribe()
			for {
				select {
				case <-ctx.Done():
					return nil
				case state := <-updates:
					fmt.Fprintf(out, "  State: %s (on restart: %s)\n", state, gwtls.PlanFor(state))
				}
			}
		},
	}
}
