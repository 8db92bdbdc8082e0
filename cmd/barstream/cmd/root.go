package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "barstream",
	Short: "Real-time market-data pipeline: ticks in, minute bars out",
	Long: `Barstream connects to the Upstox market-data websocket, aggregates the
tick stream into one-minute OHLCV bars per instrument and fans both ticks
and completed bars out to dashboard websocket clients.

Completed bars are persisted to sqlite and can be backfilled over HTTP.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
