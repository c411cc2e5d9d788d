package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/nao1215/onionhost/internal/config"
	"github.com/nao1215/onionhost/internal/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// loadConfig returns the defaults overlaid with the configuration file, if
// one is found. A file given with --config must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.ConfigFilePath = stringFlag(cmd, "config")
	cfg.Verbose = boolFlag(cmd, "verbose")
	cfg.JSONLog = boolFlag(cmd, "json-log")

	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	if configPath == "" {
		if cfg.ConfigFilePath != "" {
			return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
		}
		return cfg, nil
	}

	file, err := config.LoadConfigFile(configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) && cfg.ConfigFilePath == "" {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}
	file.Apply(cfg)
	return cfg, nil
}

// stringFlag returns a flag value, looking at the command's own and
// inherited flags. It returns "" when the flag is not defined.
func stringFlag(cmd *cobra.Command, name string) string {
	if f := lookupFlag(cmd, name); f != nil {
		return f.Value.String()
	}
	return ""
}

// boolFlag is stringFlag for boolean flags.
func boolFlag(cmd *cobra.Command, name string) bool {
	v, err := strconv.ParseBool(stringFlag(cmd, name))
	if err != nil {
		return false
	}
	return v
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// setupLogger creates the secure logger selected by the configuration.
// Logs go to stderr so that stdout only carries command output.
func setupLogger(cfg *config.Config) *slog.Logger {
	return log.New(os.Stderr, log.Options{
		Verbose: cfg.Verbose,
		JSON:    cfg.JSONLog,
	})
}
