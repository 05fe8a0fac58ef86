package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eci-platform/notifyd/internal/security"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate an API key for the management API",
	Long: `Generates a random API key. Put the key in the api_key field of the
config file (or NOTIFYD_API_KEY) and hand it to API clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := security.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
}
