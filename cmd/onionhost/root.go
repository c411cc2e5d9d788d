package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for onionhost.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onionhost",
		Short: "Publish a local web service as a Tor onion service",
		Long: `onionhost publishes a web service running on this machine as a Tor onion
service (.onion address).

The onion service key is stored in the data directory, so the address stays
the same across restarts. Every publication is recorded, and a changed address
is reported as a warning.

By default, onionhost starts an embedded Tor daemon automatically.
Use --external-socks and --external-control to use an existing Tor instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json-log", false, "Write logs as JSON lines")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .onionhost in current or home directory)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewAddressCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
