package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/exec"
	"github.com/rustyeddy/tranche/id"
	"github.com/rustyeddy/tranche/journal"
	"github.com/rustyeddy/tranche/notify"
	"github.com/rustyeddy/tranche/reconcile"
	"github.com/rustyeddy/tranche/risk"
)

// RunCycle executes one trading cycle. The risk gate runs strictly first,
// before any price fetch or allocation work. TRIPPED is an expected early
// return; HALTED aborts with ErrHalted; drift beyond tolerance blocks the
// cycle with a DriftAlertError. Every exit path, including fatal ones in
// the caller, still commits current state.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) error {
	batchID := id.New()
	started := now

	// Risk gate first. The only venue call it needs is NAV.
	var nav float64
	err := e.withRetry(ctx, "get nav", func() error {
		var verr error
		nav, verr = e.venue.GetNAV(ctx)
		return verr
	})
	if err != nil {
		e.finishCycle(batchID, started, "failed", nav, err.Error())
		return fmt.Errorf("fetch nav: %w", err)
	}

	e.riskCtl.OnDayStart(now, nav)
	status := e.riskCtl.CheckDrawdown(now, nav)
	e.publishGauges()

	if e.riskCtl.Halted() {
		e.finishCycle(batchID, started, "halted", nav, "risk controller halted")
		e.notifyf(notify.Critical, "cycle aborted",
			"risk controller HALTED after repeated tripped days; operator clear required")
		e.commitBestEffort(now)
		return ErrHalted
	}
	if status == risk.Tripped {
		// Expected control-flow outcome, not an error: the day is done.
		e.log.Warn().Float64("nav", nav).Msg("risk gate tripped, no trading today")
		e.finishCycle(batchID, started, "tripped", nav, "daily loss breaker tripped")
		e.notifyf(notify.Warning, "cycle skipped", "daily loss breaker tripped at NAV %.2f", nav)
		e.commitBestEffort(now)
		return nil
	}

	if !e.led.Initialized() {
		e.led.Initialize(nav, e.cfg.Tranches.Count)
	}
	e.led.AdvanceCycle()
	e.led.ResetGuardDay()

	// Venue positions for the pre-check.
	var report broker.PositionReport
	err = e.withRetry(ctx, "get positions", func() error {
		var verr error
		report, verr = e.venue.GetPositions(ctx)
		return verr
	})
	if err != nil {
		e.finishCycle(batchID, started, "failed", nav, err.Error())
		e.commitBestEffort(now)
		return fmt.Errorf("fetch positions: %w", err)
	}

	// Target allocation from the ranking subsystem. A failure here is the
	// liquidation path for the active tranche, not a fatal cycle error.
	weights, werr := e.targets.Targets(ctx, now)
	if werr != nil {
		e.log.Warn().Err(werr).Msg("target allocation unavailable, active tranche liquidates")
		weights = nil
	}

	if err := e.fetchPrices(ctx, report, weights); err != nil {
		e.finishCycle(batchID, started, "failed", nav, err.Error())
		e.commitBestEffort(now)
		return fmt.Errorf("fetch prices: %w", err)
	}

	// Pre-execution reconciliation.
	if err := e.rec.Reconcile(e.led, report, e.lastPrices, now); err != nil {
		return e.driftBlocked(batchID, started, now, nav, err)
	}

	e.led.Revalue(e.lastPrices)

	orders := e.guardOrders(now)
	if e.led.Active().GuardTriggeredToday || weights == nil {
		orders = append(orders, e.liquidationOrders(now)...)
	} else {
		orders = append(orders, e.rotationOrders(weights, now)...)
	}
	orders = dedupeOrders(orders)

	// Per-order risk validation; violating orders are dropped and
	// reported with the specific constraints they break.
	valid := orders[:0]
	for _, o := range orders {
		if vs := e.riskCtl.ValidateOrder(o); len(vs) > 0 {
			for _, v := range vs {
				e.log.Warn().
					Str("symbol", o.Symbol).
					Str("code", v.Code).
					Str("detail", v.Msg).
					Msg("order rejected by risk validation")
			}
			e.journalOrder(batchID, o, "", "risk_rejected", 0, 0, vs[0].Code, now)
			continue
		}
		valid = append(valid, o)
	}

	timeout, _ := e.cfg.OrderTimeout()
	res, verr := e.ver.SubmitAndVerify(ctx, valid, timeout)

	e.met.CancelsTotal.Add(float64(len(res.Unresolved)))
	for _, o := range res.Filled {
		e.journalOutcome(batchID, o, "filled", now)
	}
	for _, o := range res.Partial {
		e.journalOutcome(batchID, o, "partial", now)
	}
	for _, o := range res.Unresolved {
		e.journalOutcome(batchID, o, "unresolved", now)
	}
	for _, o := range res.Rejected {
		e.journalOutcome(batchID, o, "rejected", now)
	}

	// Confirmed fills are venue fact; apply them before anything else.
	for _, o := range res.Confirmed() {
		price := o.AvgPrice
		if price <= 0 {
			price = o.Order.Price
		}
		if err := e.led.ApplyFill(o.Order.TrancheID, o.Order.Symbol, o.FilledShares, price, now); err != nil {
			// Integrity failure between confirmed fills and ledger
			// state; fatal to the cycle.
			e.finishCycle(batchID, started, "failed", nav, err.Error())
			e.commitBestEffort(now)
			return fmt.Errorf("apply fill: %w", err)
		}
	}

	if verr != nil {
		// Context cancelled mid-verification; unresolved work is already
		// recorded. Commit what is known and stop.
		e.finishCycle(batchID, started, "failed", nav, verr.Error())
		e.commitBestEffort(now)
		return verr
	}

	// Post-execution reconciliation verifies realized fills against
	// intent, especially after partial/unresolved/rejected outcomes.
	err = e.withRetry(ctx, "get positions", func() error {
		var verr2 error
		report, verr2 = e.venue.GetPositions(ctx)
		return verr2
	})
	if err != nil {
		e.finishCycle(batchID, started, "failed", nav, err.Error())
		e.commitBestEffort(now)
		return fmt.Errorf("fetch positions for post-check: %w", err)
	}
	if err := e.rec.Reconcile(e.led, report, e.lastPrices, now); err != nil {
		return e.driftBlocked(batchID, started, now, nav, err)
	}

	e.led.Revalue(e.lastPrices)
	if err := e.Commit(now); err != nil {
		e.finishCycle(batchID, started, "failed", nav, err.Error())
		return err
	}

	e.finishCycle(batchID, started, "completed", nav, "")
	e.notifyf(notify.Info, "daily cycle complete",
		"day %d: NAV %.2f, value %.2f, %d filled, %d partial, %d unresolved, %d rejected",
		e.led.DaysCount(), nav, e.led.TotalValue(),
		len(res.Filled), len(res.Partial), len(res.Unresolved), len(res.Rejected))
	return nil
}

// fetchPrices loads quotes for every symbol the cycle touches: current
// holdings, the venue report, and the target set.
func (e *Engine) fetchPrices(ctx context.Context, report broker.PositionReport, weights map[string]float64) error {
	set := make(map[string]bool)
	for _, sym := range e.led.Symbols() {
		set[sym] = true
	}
	for sym := range report {
		set[sym] = true
	}
	for sym := range weights {
		set[sym] = true
	}
	syms := make([]string, 0, len(set))
	for sym := range set {
		syms = append(syms, sym)
	}

	return e.withRetry(ctx, "get prices", func() error {
		prices, err := e.prices.GetPrices(ctx, syms)
		if err != nil {
			return err
		}
		e.lastPrices = prices
		return nil
	})
}

func (e *Engine) driftBlocked(batchID string, started, now time.Time, nav float64, err error) error {
	var drift *reconcile.DriftAlertError
	if errors.As(err, &drift) {
		e.met.DriftAlerts.Inc()
		e.notifyf(notify.Critical, "drift alert",
			"order submission blocked pending operator acknowledgment: %v", drift)
	}
	e.finishCycle(batchID, started, "drift_blocked", nav, err.Error())
	e.commitBestEffort(now)
	return err
}

// commitBestEffort persists state on abnormal exits. The primary error is
// already on its way to the caller; a failure here is logged and counted.
func (e *Engine) commitBestEffort(now time.Time) {
	if !e.led.Initialized() {
		return
	}
	if err := e.Commit(now); err != nil {
		e.log.Error().Err(err).Msg("best-effort commit failed")
	}
}

func (e *Engine) finishCycle(batchID string, started time.Time, status string, nav float64, note string) {
	e.met.CyclesTotal.WithLabelValues(status).Inc()
	rec := journal.CycleRecord{
		BatchID:    batchID,
		DaysCount:  e.led.DaysCount(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     status,
		NAV:        nav,
		Note:       note,
	}
	if err := e.jrnl.RecordCycle(rec); err != nil {
		e.log.Warn().Err(err).Msg("journal cycle failed")
	}
}

func (e *Engine) journalOutcome(batchID string, o exec.Outcome, disposition string, now time.Time) {
	e.met.OrdersTotal.WithLabelValues(disposition).Inc()
	errMsg := ""
	if o.Err != nil {
		errMsg = o.Err.Error()
	}
	e.journalOrder(batchID, o.Order, o.OrderID, disposition, o.FilledShares, o.AvgPrice, errMsg, now)
}

func (e *Engine) journalOrder(batchID string, o broker.Order, venueID, status string, filled, avg float64, errMsg string, now time.Time) {
	rec := journal.OrderRecord{
		ClientID:     o.ClientID,
		BatchID:      batchID,
		Symbol:       o.Symbol,
		TrancheID:    o.TrancheID,
		DeltaShares:  o.DeltaShares,
		RefPrice:     o.Price,
		VenueOrderID: venueID,
		Status:       status,
		FilledShares: filled,
		AvgPrice:     avg,
		Error:        errMsg,
		RecordedAt:   now,
	}
	if err := e.jrnl.RecordOrder(rec); err != nil {
		e.log.Warn().Err(err).Msg("journal order failed")
	}
}

// withRetry retries transient venue failures with bounded linear backoff;
// exhaustion escalates to a fatal cycle error.
func (e *Engine) withRetry(ctx context.Context, name string, fn func() error) error {
	backoff, _ := e.cfg.RetryBackoff()
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !broker.IsTransient(err) {
			return err
		}
		lastErr = err
		if attempt >= e.cfg.Execution.MaxRetries {
			break
		}
		wait := backoff * time.Duration(attempt+1)
		e.log.Warn().Err(err).Str("call", name).Dur("backoff", wait).Msg("transient venue error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", name, lastErr)
}

// dedupeOrders keeps the first order per (tranche, symbol); a guard
// liquidation beats a later rotation order for the same position.
func dedupeOrders(orders []broker.Order) []broker.Order {
	type key struct {
		tranche int
		symbol  string
	}
	seen := make(map[key]bool, len(orders))
	out := orders[:0]
	for _, o := range orders {
		k := key{o.TrancheID, o.Symbol}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, o)
	}
	return out
}
