package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "notifyd",
	Short: "Notification dispatch engine for e-commerce events",
	Long: `notifyd consumes order, payment and shipment events from the event
stream and delivers customer notifications over email and SMS, with
at-least-once delivery, idempotent dispatch and automatic retries.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
}
