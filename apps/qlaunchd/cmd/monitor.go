package cmd

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quatton/qlaunch/pkg/qapi/config"
	"github.com/spf13/cobra"
)

var monitorOnce bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll Cloud Run for in-progress runs without serving the API",
	Long: `Runs only the background monitor. Several monitors can share one
Valkey instance (VALKEY_ADDR); a lease makes sure only one of them checks
runs at a time. Use --once to run a single cycle and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		env, err := config.ValidateEnv()
		if err != nil {
			return err
		}
		env.Print(log.Printf)

		a, err := newApp(ctx, cfg, env, newLogger(env.LogFormat))
		if err != nil {
			return err
		}
		defer a.Close()

		if monitorOnce {
			return a.monitor.RunOnce(ctx)
		}
		return a.monitor.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single monitor cycle and exit")
}
