package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nao1215/onionhost/internal/config"
	"github.com/nao1215/onionhost/internal/database"
	"github.com/nao1215/onionhost/internal/model"
	"github.com/nao1215/onionhost/internal/tor"
	"github.com/spf13/cobra"
)

// NewAddressCmd creates the address command.
func NewAddressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Show the last published onion address",
		Long: `Address prints the onion address recorded by the last serve run, without
starting Tor. It also reports whether the key that defines the address is still
stored, because a lost key means the next run publishes a different address.

Examples:
  # Show the address of the default service
  onionhost address

  # Show the address of another nickname
  onionhost address --nickname shop`,
		Args: cobra.NoArgs,
		RunE: runAddressCmd,
	}

	cmd.Flags().StringP("nickname", "n", config.DefaultNickname,
		"Onion service nickname")
	cmd.Flags().String("tor-data-dir", "",
		"Tor data directory (default: XDG data directory)")

	return cmd
}

// runAddressCmd executes the address command.
func runAddressCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("nickname") {
		if cfg.Nickname, err = cmd.Flags().GetString("nickname"); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("tor-data-dir") {
		if cfg.TorDataDir, err = cmd.Flags().GetString("tor-data-dir"); err != nil {
			return err
		}
	}

	return showAddress(cmd.Context(), cmd.OutOrStdout(), cfg)
}

// showAddress prints the latest recorded address for cfg.Nickname.
func showAddress(ctx context.Context, out io.Writer, cfg *config.Config) error {
	ledger, err := database.Open(cfg.DBDir, database.ReadOnlyOptions())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no address recorded for %q yet (run onionhost serve first)", cfg.Nickname)
		}
		return fmt.Errorf("failed to open publication history: %w", err)
	}
	defer ledger.Close()

	pub, err := ledger.LatestPublication(ctx, cfg.Nickname)
	if err != nil {
		return err
	}
	if pub == nil {
		return fmt.Errorf("no address recorded for %q yet (run onionhost serve first)", cfg.Nickname)
	}

	addr, err := model.NewOnionAddress(pub.OnionHost, pub.OnionPort)
	if err != nil {
		return fmt.Errorf("recorded address is invalid: %w", err)
	}
	fmt.Fprintln(out, addr.URL())

	hosts, err := ledger.DistinctHosts(ctx, cfg.Nickname)
	if err != nil {
		return err
	}
	if len(hosts) > 1 {
		fmt.Fprintf(out, "Warning: %q has published %d different addresses; see onionhost history.\n",
			cfg.Nickname, len(hosts))
	}

	key, err := tor.NewKeyStore(cfg.TorDataDir).Load(cfg.Nickname)
	if err != nil {
		return fmt.Errorf("failed to read onion service key: %w", err)
	}
	if key == nil {
		fmt.Fprintf(out, "Warning: no key stored for %q; the next run will publish a new address.\n", cfg.Nickname)
		return nil
	}
	clear(key)
	return nil
}
