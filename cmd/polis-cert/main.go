// Package main is the entry point for the polis-cert operator tool. It
// bootstraps, inspects and verifies a gateway artifact directory, and calls
// gateway methods with the client files it holds.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-gateway/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-cert
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-cert",
		Short: "Manage the gateway's mutual TLS artifacts",
		Long: `polis-cert works on the artifact directory <data-dir>/<network>, which holds
ca.pem, ca-key.pem, server.pem, server-key.pem, client.pem and client-key.pem.

Example:
  polis-cert reconcile --data-dir /var/lib/polis-gateway --network regtest
  polis-cert call getinfo --addr 127.0.0.1:50051`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to gateway configuration file (YAML)")
	flags.String("data-dir", "", "Base data directory")
	flags.String("network", "", "Network name")
	flags.String("server-name", "", "Logical server name")

	rootCmd.AddCommand(
		newReconcileCmd(),
		newInspectCmd(),
		newVerifyCmd(),
		newCallCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tool version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "polis-cert version %s\n", version)
		},
	}
}

// loadConfig reads the gateway configuration and applies the persistent
// directory flags when set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	for name, dst := range map[string]*string{
		"data-dir":    &cfg.DataDir,
		"network":     &cfg.Network,
		"server-name": &cfg.GRPC.ServerName,
	} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
