package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/quatton/qlaunch/pkg/secrets"
	"github.com/spf13/cobra"
)

var keyringService string

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage secrets for the keyring backend",
	Long: `Stores secrets in the OS keyring for launchers configured with
secrets.backend: keyring. Useful for local development against a Cloud Run
emulator.`,
	// keyring access does not need the launcher config
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var secretsSetCmd = &cobra.Command{
	Use:   "set NAME [VALUE]",
	Short: "Store a secret, reading the value from stdin when omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 2 {
			value = args[1]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading secret value: %w", err)
			}
			value = strings.TrimRight(line, "\r\n")
		}

		kr := secrets.Keyring{Service: keyringService}
		if err := kr.Save(args[0], value); err != nil {
			return fmt.Errorf("saving secret %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Stored secret %s\n", args[0])
		return nil
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kr := secrets.Keyring{Service: keyringService}
		if err := kr.Delete(args[0]); err != nil {
			return fmt.Errorf("deleting secret %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted secret %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	secretsCmd.PersistentFlags().StringVar(&keyringService, "service", "", "keyring service name (default qlaunch)")
}
