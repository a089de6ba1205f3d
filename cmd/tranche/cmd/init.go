package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tranche/config"
	"github.com/rustyeddy/tranche/engine"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Mark a fresh deployment or generate a default config",
	Long: `Prepare a new deployment.

With --config, mark the configured state paths as a fresh deployment so
the first start builds an empty ledger. Without the marker, missing state
is treated as data loss and the engine refuses to start. Run this exactly
once, before the first 'tranche run'.

With --defaults, write a default configuration file instead. The drift
tolerance and order notional cap are left unset on purpose; the deployment
must fill them in before the file validates.

Examples:
  tranche init --defaults -o tranche.yaml
  tranche init -f tranche.yaml`,
	RunE: runInit,
}

var (
	initConfigPath string
	initDefaults   bool
	initOutput     string
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVarP(&initConfigPath, "config", "f", "", "config file of the deployment to mark fresh")
	initCmd.Flags().BoolVar(&initDefaults, "defaults", false, "write a default config file and exit")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "tranche.yaml", "output path for --defaults")
}

func runInit(cmd *cobra.Command, args []string) error {
	if initDefaults {
		cfg := config.Default()
		if err := cfg.SaveToFile(initOutput); err != nil {
			return err
		}
		fmt.Printf("Default config written to: %s\n", initOutput)
		fmt.Println("Set reconcile.drift_tolerance and risk.max_order_notional before use.")
		return nil
	}

	if initConfigPath == "" {
		return fmt.Errorf("either --config or --defaults is required")
	}
	cfg, err := config.LoadFromFile(initConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	eng, err := engine.New(cfg, engine.Deps{})
	if err != nil {
		return err
	}
	if err := eng.InitFresh(); err != nil {
		return err
	}
	fmt.Printf("Fresh deployment marked for:\n  - %s\n  - %s\n",
		cfg.Engine.StateFile, cfg.Engine.RiskFile)
	return nil
}
