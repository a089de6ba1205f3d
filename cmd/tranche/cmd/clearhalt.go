package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tranche/risk"
)

var clearHaltCmd = &cobra.Command{
	Use:   "clear-halt",
	Short: "Clear an operator halt on the risk controller",
	Long: `Reset a HALTED circuit breaker back to ARMED and persist the change.

A halt is never cleared automatically; this command is the only way back.
Review what tripped the breaker before running it.

Example:
  tranche clear-halt -f tranche.yaml`,
	RunE: runClearHalt,
}

var clearHaltConfigPath string

func init() {
	rootCmd.AddCommand(clearHaltCmd)

	clearHaltCmd.Flags().StringVarP(&clearHaltConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	clearHaltCmd.MarkFlagRequired("config")
}

func runClearHalt(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(clearHaltConfigPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	if eng.Risk().Status() != risk.Halted {
		fmt.Printf("Risk controller is %s, nothing to clear\n", eng.Risk().Status())
		return nil
	}

	now := time.Now()
	eng.Risk().ClearHalt(now)
	if err := eng.Commit(now); err != nil {
		return fmt.Errorf("persist cleared state: %w", err)
	}
	fmt.Println("Halt cleared, risk controller is ARMED")
	return nil
}
