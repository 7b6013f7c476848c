package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/akeyanjam/mbss-test/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigDir string
	flagJSON      bool
	flagVerbose   bool
	flagQuiet     bool
)

// defaultConfigDir is where the deploy bundle places app.config.json,
// environments.json, and users.json relative to the working directory.
const defaultConfigDir = "./config"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mbss-test",
		Short:   "UI test orchestrator",
		Long:    "Runs deployed browser-test bundles against target environments, records per-test artifacts, and serves the dashboard API.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigDir, "config", defaultConfigDir, "config directory (app.config.json, environments.json, users.json)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON command output and log lines")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Register subcommands.
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadAppConfig resolves the effective orchestrator configuration from the
// override chain: defaults, then app.config.json, then environment
// variables. An explicit --config beats the CONFIG_PATH variable because CLI
// flags are the top layer.
func loadAppConfig(cmd *cobra.Command) (*config.Config, error) {
	env := config.ReadEnvOverrides()

	if cmd.Flags().Changed("config") {
		env.ConfigPath = ""
	}

	cfg, err := config.Load(flagConfigDir, env)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// buildLogger creates the process logger. Interactive terminals get the text
// handler; anything else (service manager, pipe, --json) gets JSON lines.
// --verbose and --quiet override the default info level because CLI flags
// always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	if !flagJSON && isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
