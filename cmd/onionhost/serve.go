package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/onionhost/internal/config"
	"github.com/nao1215/onionhost/internal/database"
	"github.com/nao1215/onionhost/internal/event"
	"github.com/nao1215/onionhost/internal/pipeline"
	"github.com/spf13/cobra"
)

// healthInterval is how often a running service checks on Tor.
const healthInterval = time.Minute

// shutdownTimeout bounds removing the onion service and stopping Tor.
const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Publish the local web service as an onion service",
		Long: `Serve publishes a web service listening on 127.0.0.1 as a Tor onion service
and keeps it online until interrupted (Ctrl+C or SIGTERM).

Startup steps:
- Bind a local reverse proxy on an ephemeral loopback port
- Start the embedded Tor daemon (or connect to an external one)
- Publish the onion service with the key stored for the nickname
- Record the address and warn if it changed since the last run

While Tor starts, the upstream web service is polled until it serves pages.

Examples:
  # Publish a Ghost blog on its default port
  onionhost serve

  # Publish a service on port 3000 as onion port 80
  onionhost serve --port 3000

  # Use an external Tor instance with ControlPort access
  onionhost serve --external-socks 127.0.0.1:9050 --external-control 127.0.0.1:9051

  # Check that the address is reachable through Tor after publishing
  onionhost serve --self-check`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().IntP("port", "p", config.DefaultUpstreamPort,
		"Port of the local web service to publish")
	cmd.Flags().Int("onion-port", config.DefaultOnionPort,
		"Virtual port exposed on the onion address")
	cmd.Flags().StringP("nickname", "n", config.DefaultNickname,
		"Onion service nickname (selects the stored key)")

	// Tor flags
	cmd.Flags().String("tor-data-dir", "",
		"Tor data directory (default: XDG data directory)")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for Tor bootstrap")
	cmd.Flags().String("external-socks", "",
		"SOCKS address of an external Tor instance (e.g., 127.0.0.1:9050)")
	cmd.Flags().String("external-control", "",
		"ControlPort address of an external Tor instance (e.g., 127.0.0.1:9051)")

	// Readiness flags
	cmd.Flags().String("readiness-url", "",
		"URL polled until the web service is ready (default: http://127.0.0.1:<port>/)")
	cmd.Flags().Int("readiness-attempts", config.DefaultReadinessAttempts,
		"Number of readiness checks before giving up")
	cmd.Flags().Bool("skip-readiness", false,
		"Do not wait for the web service")

	cmd.Flags().Bool("self-check", false,
		"Fetch the onion address through Tor after publishing")
	cmd.Flags().Bool("no-history", false,
		"Do not record the publication")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildServeConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cmd.OutOrStdout(), cfg, logger)
}

// buildServeConfig creates a Config from the configuration file and the
// serve flags. Flags override the file only when set explicitly.
func buildServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		if cfg.UpstreamPort, err = flags.GetInt("port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("onion-port") {
		if cfg.OnionPort, err = flags.GetInt("onion-port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("nickname") {
		if cfg.Nickname, err = flags.GetString("nickname"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("tor-data-dir") {
		if cfg.TorDataDir, err = flags.GetString("tor-data-dir"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("tor-timeout") {
		if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("external-socks") || flags.Changed("external-control") {
		cfg.UseExternalTor = true
		if cfg.TorSocksAddress, err = flags.GetString("external-socks"); err != nil {
			return nil, err
		}
		if cfg.TorControlAddress, err = flags.GetString("external-control"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("readiness-url") {
		if cfg.ReadinessURL, err = flags.GetString("readiness-url"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("readiness-attempts") {
		if cfg.ReadinessAttempts, err = flags.GetInt("readiness-attempts"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("skip-readiness") {
		if cfg.SkipReadiness, err = flags.GetBool("skip-readiness"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("self-check") {
		if cfg.SelfCheck, err = flags.GetBool("self-check"); err != nil {
			return nil, err
		}
	}

	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noHistory

	return cfg, nil
}

// serve starts the onion service and blocks until ctx is done or the local
// proxy stops.
func serve(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting onion service",
		"upstream_port", cfg.UpstreamPort,
		"onion_port", cfg.OnionPort,
		"nickname", cfg.Nickname,
		"external_tor", cfg.UseExternalTor,
	)

	opts := []pipeline.OrchestratorOption{
		pipeline.WithOrchestratorLogger(logger),
	}

	if cfg.SaveToDB {
		ledger, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open publication history: %w", err)
		}
		defer ledger.Close()
		opts = append(opts, pipeline.WithLedger(ledger))
	}

	bus := event.New()
	defer bus.Close()
	events := bus.Subscribe()
	opts = append(opts, pipeline.WithBus(bus))

	if !cfg.UseExternalTor {
		fmt.Fprintln(out, "Starting embedded Tor daemon...")
		fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")
	}

	// Run keeps waiting for the web service after the onion service is
	// published, so events are printed as they arrive.
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(out, events)
	}()

	svc, err := pipeline.NewOrchestrator(cfg, opts...).Run(ctx)
	bus.Close()
	<-printed
	if err != nil {
		return fmt.Errorf("failed to start onion service: %w", err)
	}

	printSummary(out, cfg, svc)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go svc.MonitorHealth(monitorCtx, healthInterval)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, stopping...")
	case <-svc.ProxyDone():
		logger.Error("local proxy stopped unexpectedly")
	case <-svc.Done():
		logger.Error("onion service stopped unexpectedly")
	}

	stopMonitor()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop onion service: %w", err)
	}
	fmt.Fprintln(out, "Onion service stopped.")
	return nil
}

// printEvents prints startup events until the subscription is closed.
// Failures to publish are reported through Run's error instead.
func printEvents(out io.Writer, events <-chan event.Event) {
	for ev := range events {
		switch ev.Kind {
		case event.HiddenServiceReady:
			fmt.Fprintf(out, "Onion service is online: %s\n", ev.Payload)
		case event.UpstreamReady:
			fmt.Fprintf(out, "Web service ready: %s\n", ev.Payload)
		case event.UpstreamFailed:
			fmt.Fprintf(out, "Warning: web service not ready: %s\n", ev.Payload)
		case event.HiddenServiceFailed:
		}
	}
}

// printSummary prints where the published address forwards to.
func printSummary(out io.Writer, cfg *config.Config, svc *pipeline.Service) {
	session := svc.Session()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Onion address: %s\n", session.OnionAddress.URL())
	fmt.Fprintf(out, "Forwarding to: http://127.0.0.1:%d (via proxy on port %d)\n",
		cfg.UpstreamPort, svc.ProxyPort())
	if session.AddressChanged() {
		fmt.Fprintf(out, "\nWARNING: the address changed since the last run (was %s).\n", session.PreviousAddress)
		fmt.Fprintf(out, "The stored key for %q may have been lost or replaced.\n", session.Nickname)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop.")
}
