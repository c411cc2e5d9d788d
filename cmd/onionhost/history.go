package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nao1215/onionhost/internal/config"
	"github.com/nao1215/onionhost/internal/database"
	"github.com/nao1215/onionhost/internal/report"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the publication history",
		Long: `History lists every recorded publication, newest first, and highlights
address changes. An address change means the stored key was lost or replaced
and visitors need the new address.

Examples:
  # Show the history of every service
  onionhost history

  # Only one nickname, as Markdown written to a file
  onionhost history --nickname blog --markdown -o history.md

  # Machine-readable output
  onionhost history --json`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().StringP("nickname", "n", "",
		"Only show publications of this nickname")
	cmd.Flags().IntP("limit", "l", 0,
		"Maximum number of publications to show (0 for all)")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the report to the specified file path (creates directories if needed)")

	return cmd
}

// historyOptions holds the history flags.
type historyOptions struct {
	nickname string
	limit    int
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var opts historyOptions
	if opts.nickname, err = cmd.Flags().GetString("nickname"); err != nil {
		return err
	}
	if opts.limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return err
	}
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return fmt.Errorf("configuration error: %w", config.ErrConflictingReportFormats)
	}

	history, err := loadHistory(cmd.Context(), cfg, opts)
	if err != nil {
		return err
	}
	return outputHistory(cmd.OutOrStdout(), cfg, history)
}

// loadHistory reads publications from the ledger. A missing database is an
// empty history.
func loadHistory(ctx context.Context, cfg *config.Config, opts historyOptions) (*report.History, error) {
	ledger, err := database.Open(cfg.DBDir, database.ReadOnlyOptions())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return report.NewHistory(opts.nickname, nil), nil
		}
		return nil, fmt.Errorf("failed to open publication history: %w", err)
	}
	defer ledger.Close()

	pubs, err := ledger.ListPublications(ctx, opts.nickname, opts.limit)
	if err != nil {
		return nil, err
	}
	return report.NewHistory(opts.nickname, pubs), nil
}

// outputHistory writes the history in the requested format to stdout or
// to cfg.ReportFile.
func outputHistory(stdout io.Writer, cfg *config.Config, history *report.History) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Onion addresses of private services are sensitive, keep the file owner-only.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var writer report.Writer
	switch {
	case cfg.JSONReport:
		writer = report.NewJSONWriter(output, report.WithPrettyPrint())
	case cfg.MarkdownReport:
		writer = report.NewMarkdownWriter(output)
	default:
		writer = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}

	_, err := writer.Write(history)
	return err
}
