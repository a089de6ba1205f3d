// Package engine wires the ledger, persistence, risk gate, reconciliation,
// and execution verification into the daily trading cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/calendar"
	"github.com/rustyeddy/tranche/config"
	"github.com/rustyeddy/tranche/exec"
	"github.com/rustyeddy/tranche/journal"
	"github.com/rustyeddy/tranche/ledger"
	"github.com/rustyeddy/tranche/logging"
	"github.com/rustyeddy/tranche/metrics"
	"github.com/rustyeddy/tranche/notify"
	"github.com/rustyeddy/tranche/persist"
	"github.com/rustyeddy/tranche/reconcile"
	"github.com/rustyeddy/tranche/risk"
)

// ErrHalted aborts the entire cycle: the risk controller is in HALTED and
// only an operator clear releases it.
var ErrHalted = errors.New("risk controller halted, operator clear required")

// TargetSource supplies the cycle's target allocation as symbol -> weight.
// It is the boundary to the ranking/selection subsystem, which is not part
// of this engine.
type TargetSource interface {
	Targets(ctx context.Context, now time.Time) (map[string]float64, error)
}

// Engine owns the cycle state machine. Single-writer: exactly one goroutine
// calls RunCycle / Commit / Shutdown.
type Engine struct {
	cfg *config.Config
	cal *calendar.Calendar

	led     *ledger.Ledger
	riskCtl *risk.Controller
	rec     *reconcile.Reconciler
	ver     *exec.Verifier

	ledgerStore *persist.Store
	riskStore   *persist.Store

	venue    broker.Venue
	prices   broker.PriceSource
	targets  TargetSource
	jrnl     journal.Journal
	notifier notify.Notifier
	met      *metrics.Metrics

	// prices fetched for the current cycle; read by the order builders.
	lastPrices map[string]float64

	log zerolog.Logger
}

// Deps are the external collaborators injected into the engine.
type Deps struct {
	Venue    broker.Venue
	Prices   broker.PriceSource
	Targets  TargetSource
	Notifier notify.Notifier
	Journal  journal.Journal
	Metrics  *metrics.Metrics
}

// New assembles an engine from validated configuration and its external
// collaborators.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	level := logging.ParseLevel(cfg.Engine.LogLevel)
	cal := calendar.New(loc, cfg.Engine.Holidays)

	led := ledger.New(ledger.GuardConfig{
		StopLoss:        cfg.Guard.StopLoss,
		TrailingTrigger: cfg.Guard.TrailingTrigger,
		TrailingDrop:    cfg.Guard.TrailingDrop,
		ProtectionDays:  cfg.Guard.ProtectionDays,
	}, cal, logging.New("ledger", level))

	riskCtl := risk.NewController(risk.Config{
		MaxDailyLossPct:  cfg.Risk.MaxDailyLossPct,
		TripHaltLimit:    cfg.Risk.TripHaltLimit,
		MaxOrderNotional: cfg.Risk.MaxOrderNotional,
	}, cal, logging.New("risk", level))

	pollInterval, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}
	backoff, err := cfg.RetryBackoff()
	if err != nil {
		return nil, err
	}

	persistLog := logging.New("persist", level)
	e := &Engine{
		cfg:     cfg,
		cal:     cal,
		led:     led,
		riskCtl: riskCtl,
		rec:     reconcile.New(cfg.Reconcile.DriftTolerance, logging.New("reconcile", level)),
		ver: exec.New(deps.Venue, pollInterval, cfg.Execution.MaxRetries,
			backoff, logging.New("exec", level)),
		ledgerStore: persist.NewStore(cfg.Engine.StateFile, cfg.Engine.BackupCount,
			parseSnapshot, persistLog),
		riskStore: persist.NewStore(cfg.Engine.RiskFile, cfg.Engine.BackupCount,
			parseRiskState, persistLog),
		venue:    deps.Venue,
		prices:   deps.Prices,
		targets:  deps.Targets,
		jrnl:     deps.Journal,
		notifier: deps.Notifier,
		met:      deps.Metrics,
		log:      logging.New("engine", level),
	}
	if e.jrnl == nil {
		e.jrnl = journal.Nop{}
	}
	if e.notifier == nil {
		e.notifier = &notify.LogNotifier{Log: e.log}
	}
	if e.met == nil {
		e.met = metrics.New()
	}
	return e, nil
}

func parseSnapshot(data []byte) (int64, error) {
	s, err := ledger.DecodeSnapshot(data)
	if err != nil {
		return 0, err
	}
	return s.DaysCount, nil
}

func parseRiskState(data []byte) (int64, error) {
	_, err := risk.DecodeState(data)
	return 0, err
}

// Ledger exposes the ledger for status reporting and tests.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

// Risk exposes the risk controller for status reporting and operator
// actions.
func (e *Engine) Risk() *risk.Controller { return e.riskCtl }

// Calendar exposes the venue trading calendar.
func (e *Engine) Calendar() *calendar.Calendar { return e.cal }

// InitFresh marks both state paths as a fresh deployment. Run once, before
// the first start; afterwards the absence of readable state is treated as
// data loss, never as a fresh start.
func (e *Engine) InitFresh() error {
	if err := e.ledgerStore.MarkFresh(); err != nil {
		return err
	}
	return e.riskStore.MarkFresh()
}

// Startup acquires the advisory locks and restores ledger and risk state.
// The locks stay held until Shutdown.
func (e *Engine) Startup(now time.Time) error {
	if err := e.ledgerStore.Acquire(); err != nil {
		return err
	}
	if err := e.riskStore.Acquire(); err != nil {
		e.ledgerStore.Release()
		return err
	}

	lr, err := e.ledgerStore.Load()
	if err != nil {
		return fmt.Errorf("load ledger state: %w", err)
	}
	if !lr.Fresh {
		snap, err := ledger.DecodeSnapshot(lr.Data)
		if err != nil {
			return fmt.Errorf("restore ledger: %w", err)
		}
		if err := e.led.Restore(snap); err != nil {
			return err
		}
		if lr.FromBackup {
			e.notifyf(notify.Critical, "data loss on recovery",
				"ledger recovered from %s, %d cycle(s) potentially lost",
				lr.Source, lr.CyclesLost)
		}
		// A gap in trading days since the last commit is a missed-cycle
		// event; it is logged, never silently absorbed.
		if gap := e.cal.TradingDaysBetween(snap.CommittedAt, now); gap > 1 {
			missed := gap - 1
			e.met.MissedCycles.Add(float64(missed))
			e.log.Warn().
				Int("missed_cycles", missed).
				Time("last_commit", snap.CommittedAt).
				Msg("missed trading cycles since last commit")
		}
	}

	rr, err := e.riskStore.Load()
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	if !rr.Fresh {
		st, err := risk.DecodeState(rr.Data)
		if err != nil {
			return fmt.Errorf("restore risk state: %w", err)
		}
		e.riskCtl.Restore(st)
		if rr.FromBackup {
			e.notifyf(notify.Critical, "data loss on recovery",
				"risk state recovered from %s", rr.Source)
		}
	}

	e.publishGauges()
	e.log.Info().
		Int64("days_count", e.led.DaysCount()).
		Bool("initialized", e.led.Initialized()).
		Str("risk_status", string(e.riskCtl.Status())).
		Msg("state restored")
	return nil
}

// Commit durably persists the ledger snapshot and risk state. Both files
// follow the same atomic discipline; a verification failure propagates as a
// CommitVerificationError and is never swallowed.
func (e *Engine) Commit(now time.Time) error {
	start := time.Now()

	snap := e.led.Snapshot(now)
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := e.ledgerStore.Commit(data); err != nil {
		e.met.CommitFailures.Inc()
		return err
	}
	e.led.MarkCommitted(now)

	rs := e.riskCtl.State()
	rdata, err := rs.Encode()
	if err != nil {
		return fmt.Errorf("encode risk state: %w", err)
	}
	if err := e.riskStore.Commit(rdata); err != nil {
		e.met.CommitFailures.Inc()
		return err
	}

	e.met.CommitDur.Observe(time.Since(start).Seconds())
	e.publishGauges()
	e.log.Info().
		Int64("days_count", e.led.DaysCount()).
		Dur("took", time.Since(start)).
		Msg("state committed")
	return nil
}

// Shutdown force-commits current state if initialized, releases the
// advisory locks, and closes the journal.
func (e *Engine) Shutdown(now time.Time) error {
	var firstErr error
	if e.led.Initialized() {
		if err := e.Commit(now); err != nil {
			firstErr = err
			e.log.Error().Err(err).Msg("final commit failed")
		}
	}
	if err := e.ledgerStore.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.riskStore.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.jrnl.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases the advisory locks and the journal without committing.
// For read-only operator commands; the daemon path uses Shutdown.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.ledgerStore.Release(); err != nil {
		firstErr = err
	}
	if err := e.riskStore.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.jrnl.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) publishGauges() {
	switch e.riskCtl.Status() {
	case risk.Armed:
		e.met.RiskStatus.Set(0)
	case risk.Tripped:
		e.met.RiskStatus.Set(1)
	case risk.Halted:
		e.met.RiskStatus.Set(2)
	}
	e.met.DaysCount.Set(float64(e.led.DaysCount()))
	e.met.TotalValue.Set(e.led.TotalValue())
}

// notifyf sends a best-effort alert; failures are logged, never propagated.
func (e *Engine) notifyf(level notify.Level, title, format string, args ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := e.notifier.Send(ctx, notify.Alert{
		Level:   level,
		Title:   title,
		Message: fmt.Sprintf(format, args...),
	})
	if err != nil {
		e.log.Warn().Err(err).Str("title", title).Msg("notification failed")
	}
}
