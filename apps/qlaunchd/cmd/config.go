package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/quatton/qlaunch/pkg/qapi/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the launcher and daemon configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved launcher configuration",
	Long: `Loads and validates the launcher configuration and prints it as JSON.
Value sources are printed as configured; secrets are never resolved.

Env entries given as a map have their names upper-cased. Use the list form
to keep a name's case:

  env:
    - {name: HuggingFace_Token, secret_name: hf-token}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if used := cfg.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "# %s\n", used)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "Validate and print the daemon environment",
	// the daemon environment does not depend on the launcher config
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := config.ValidateEnv()
		if err != nil {
			return err
		}
		env.Print(log.New(cmd.OutOrStdout(), "", 0).Printf)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEnvCmd)
}
