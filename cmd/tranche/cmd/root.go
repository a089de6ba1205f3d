package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tranche",
	Short: "A durable rolling-tranche portfolio state engine",
	Long: `Tranche maintains a durable capital-partition ledger for a daily
rotation strategy.

It provides:
  - Crash-consistent ledger and risk-state persistence with rotating backups
  - A cross-day daily-loss circuit breaker with operator-cleared halt
  - Position reconciliation against venue-reported holdings
  - Verified order execution with timeout cancellation
  - A trading-calendar scheduler with a liveness heartbeat

Complete documentation is available at https://github.com/rustyeddy/tranche`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
