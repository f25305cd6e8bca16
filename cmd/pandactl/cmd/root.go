// Package cmd implements the CLI commands for pandactl.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pandactl/internal/config"
	"github.com/jmylchreest/pandactl/internal/observability"
	"github.com/jmylchreest/pandactl/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// appConfig is the configuration loaded before any command runs.
var appConfig *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "pandactl",
	Short:   "Upload videos to and manage profiles on a PandaStream cloud",
	Version: version.Short(),
	Long: `pandactl drives a PandaStream-compatible video encoding service.

It uploads batches of local video files, waits until every encoding derived
from them has finished and reports how long encoding took. It also keeps the
encoding profiles of a cloud in line with a local profile declaration file.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the context handed to commands.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Set PersistentPreRunE here to avoid initialization cycle
	// (initLogging references rootCmd.PersistentFlags)
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		return initLogging()
	}

	// Logging flags are NOT bound to viper. They only override config/env
	// values when explicitly set, see initLogging.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is pandactl.yaml in ., $HOME/.pandactl or /etc/pandactl)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Service connection flags, shared by every command talking to the API.
	flags := rootCmd.PersistentFlags()
	flags.String("api-host", config.Defaults().API.Host, "PandaStream API host")
	flags.Int("api-port", config.Defaults().API.Port, "PandaStream API port (443 uses https)")
	flags.String("access-key", "", "PandaStream API access key")
	flags.String("secret-key", "", "PandaStream API secret key")
	flags.String("cloud-id", "", "ID of the PandaStream cloud to use")
	flags.Float64("rate-limit", 0, "maximum API calls per second (0 = unlimited)")

	mustBindPFlag("api.host", flags.Lookup("api-host"))
	mustBindPFlag("api.port", flags.Lookup("api-port"))
	mustBindPFlag("api.access_key", flags.Lookup("access-key"))
	mustBindPFlag("api.secret_key", flags.Lookup("secret-key"))
	mustBindPFlag("api.cloud_id", flags.Lookup("cloud-id"))
	mustBindPFlag("api.rate_limit", flags.Lookup("rate-limit"))
}

// initConfig reads the config file and PANDACTL_* environment variables on
// top of the defaults. Explicitly set flags win over both.
func initConfig() error {
	config.SetDefaults(viper.GetViper())

	cfg, err := config.LoadWithViper(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}

	appConfig = cfg
	return nil
}

// initLogging configures the slog logger based on configuration.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (PANDACTL_LOGGING_LEVEL, PANDACTL_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, text)
func initLogging() error {
	logCfg := appConfig.Logging

	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)

	// Handle "warning" as an alias for "warn"
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}
	appConfig.Logging = logCfg

	// The secret values themselves are masked wherever they show up.
	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr,
		appConfig.API.SecretKey, appConfig.API.AccessKey)
	logger = observability.WithCorrelationID(logger, ulid.Make().String())
	slog.SetDefault(logger)

	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
