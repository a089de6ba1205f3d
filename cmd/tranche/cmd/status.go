package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tranche/config"
	"github.com/rustyeddy/tranche/engine"
	"github.com/rustyeddy/tranche/persist"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print restored ledger and risk state",
	Long: `Load the persisted state and print a summary: cycle counter, active
tranche, per-tranche value, and the circuit-breaker status.

Takes the same advisory locks as 'run'; it cannot be used while the
supervisor is running.

Example:
  tranche status -f tranche.yaml`,
	RunE: runStatus,
}

var statusConfigPath string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	statusCmd.MarkFlagRequired("config")
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(statusConfigPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	led := eng.Ledger()
	if !led.Initialized() {
		fmt.Println("Ledger: not initialized (fresh deployment)")
	} else {
		fmt.Printf("Ledger:\n")
		fmt.Printf("  Cycles completed: %d\n", led.DaysCount())
		fmt.Printf("  Last commit:      %s\n", led.CommittedAt().Format(time.RFC3339))
		fmt.Printf("  Active tranche:   %d of %d\n", led.ActiveIndex(), led.TrancheCount())
		fmt.Printf("  Total value:      %.2f\n", led.TotalValue())
		for _, t := range led.Tranches() {
			fmt.Printf("  Tranche %d: cash %.2f, value %.2f, holdings %d\n",
				t.ID, t.Cash, t.TotalValue, len(t.Holdings))
		}
	}

	rs := eng.Risk().State()
	fmt.Printf("Risk:\n")
	fmt.Printf("  Status:         %s\n", rs.Status)
	fmt.Printf("  Tripped streak: %d\n", rs.TrippedStreak)
	if rs.OpeningNAV > 0 {
		fmt.Printf("  Opening NAV:    %.2f (%s)\n", rs.OpeningNAV, rs.Day)
	}
	if len(rs.TrippedDates) > 0 {
		fmt.Printf("  Tripped dates:  %v\n", rs.TrippedDates)
	}
	return nil
}

// openEngine loads config, builds an engine with no venue, and restores
// state. The caller releases the locks with Close.
func openEngine(path string) (*engine.Engine, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	eng, err := engine.New(cfg, engine.Deps{})
	if err != nil {
		return nil, err
	}
	if err := eng.Startup(time.Now()); err != nil {
		if errors.Is(err, persist.ErrLocked) {
			return nil, fmt.Errorf("state is locked, is the supervisor running? %w", err)
		}
		return nil, err
	}
	return eng, nil
}
