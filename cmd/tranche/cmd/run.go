package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tranche/broker/sim"
	"github.com/rustyeddy/tranche/config"
	"github.com/rustyeddy/tranche/engine"
	"github.com/rustyeddy/tranche/journal"
	"github.com/rustyeddy/tranche/logging"
	"github.com/rustyeddy/tranche/metrics"
	"github.com/rustyeddy/tranche/notify"
	"github.com/rustyeddy/tranche/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily cycle supervisor",
	Long: `Start the engine: restore state, schedule the daily execution window,
and run cycles until terminated.

Orders go to a paper venue fed from the feed file, which the external
ranking process rewrites before each execution window:

  {"nav": 100000, "prices": {"510300": 4.10}, "weights": {"510300": 0.5}}

Example:
  tranche run -f tranche.yaml --feed feed.json`,
	RunE: runRun,
}

var (
	runConfigPath string
	runFeedPath   string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().StringVar(&runFeedPath, "feed", "", "path to paper venue feed file (required)")
	runCmd.MarkFlagRequired("config")
	runCmd.MarkFlagRequired("feed")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := logging.ParseLevel(cfg.Engine.LogLevel)

	var jrnl journal.Journal = journal.Nop{}
	if cfg.Engine.JournalDB != "" {
		jrnl, err = journal.NewSQLite(cfg.Engine.JournalDB)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
	}

	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		timeout := 10 * time.Second
		if cfg.Notify.Timeout != "" {
			timeout, _ = time.ParseDuration(cfg.Notify.Timeout)
		}
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, timeout)
	}

	met := metrics.New()
	if cfg.Engine.MetricsAddr != "" {
		met.Serve(cfg.Engine.MetricsAddr)
	}

	venue := sim.New(0, nil)
	targets := newFileTargets(runFeedPath, venue)

	eng, err := engine.New(cfg, engine.Deps{
		Venue:    venue,
		Prices:   venue,
		Targets:  targets,
		Notifier: notifier,
		Journal:  jrnl,
		Metrics:  met,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The venue needs a NAV before the first cycle's risk gate; prime it
	// from the feed file up front.
	if _, err := targets.Targets(ctx, time.Now()); err != nil {
		return fmt.Errorf("prime venue from feed: %w", err)
	}

	if err := eng.Startup(time.Now()); err != nil {
		jrnl.Close()
		return err
	}

	interval, err := cfg.HeartbeatInterval()
	if err != nil {
		return err
	}
	hb := scheduler.NewHeartbeat(interval, met.Beat, logging.New("heartbeat", level))
	sched := scheduler.New(eng.Calendar(), cfg.Engine.ExecTime, hb,
		eng.RunCycle, eng.Shutdown, logging.New("scheduler", level))

	return sched.Run(ctx)
}
