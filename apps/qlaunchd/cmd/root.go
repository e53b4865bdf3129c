package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/quatton/qlaunch/pkg/launcher"
	"github.com/quatton/qlaunch/pkg/qlog"
	"github.com/spf13/cobra"
)

type contextKey string

const configContextKey contextKey = "qlaunchconfig"

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var (
	cfgFile string
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "qlaunchd",
		Short: "Launch orchestrator runs as Cloud Run job executions",
		Long: `qlaunchd runs orchestrator runs as Google Cloud Run job executions.

It serves an HTTP API to create, launch, terminate and inspect runs, and
polls Cloud Run in the background so run statuses follow their executions.
Launcher settings come from qlaunch.yaml (merged with .qlaunch/config.yaml)
and QLAUNCH_* environment variables; daemon settings come from the
environment (PORT, DB_DRIVER, VALKEY_ADDR, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := launcher.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the launcher Config from the command context
func GetConfig(cmd *cobra.Command) (*launcher.Config, error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configContextKey).(*launcher.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

func newLogger(format string) *qlog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return qlog.New(qlog.Format(format), level, os.Stderr)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		exitIfError(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "launcher config file (YAML). Searches: qlaunch.yaml, .qlaunch/config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Version = version
}
