// Package reconcile detects and resolves drift between the ledger's
// believed holdings and the positions the venue actually reports.
//
// The venue report reflects executed fills and is authoritative for real
// quantities; the ledger is a planning projection. Small discrepancies are
// silently pulled back to the report. Large ones mean the model of reality
// is wrong, and auto-correcting would compound the error, so they halt the
// cycle behind a DriftAlertError until an operator acknowledges them.
package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/ledger"
)

// DriftAlertError carries the full per-symbol delta table (venue minus
// ledger) when any symbol drifts beyond tolerance.
type DriftAlertError struct {
	Deltas map[string]float64
}

func (e *DriftAlertError) Error() string {
	syms := make([]string, 0, len(e.Deltas))
	for s := range e.Deltas {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	parts := make([]string, 0, len(syms))
	for _, s := range syms {
		parts = append(parts, fmt.Sprintf("%s:%+.2f", s, e.Deltas[s]))
	}
	return "position drift beyond tolerance: " + strings.Join(parts, " ")
}

// Reconciler compares ledger holdings against a venue position report.
type Reconciler struct {
	tolerance float64
	log       zerolog.Logger
}

// New creates a reconciler with the configured share tolerance.
func New(tolerance float64, log zerolog.Logger) *Reconciler {
	return &Reconciler{tolerance: tolerance, log: log}
}

// Reconcile computes per-symbol deltas over the union of ledger and report
// symbols. All-zero deltas are a no-op. Deltas within tolerance adjust the
// ledger to the report. Any delta beyond tolerance returns a
// DriftAlertError with the complete nonzero delta table and leaves the
// ledger untouched.
func (r *Reconciler) Reconcile(led *ledger.Ledger, report broker.PositionReport, prices map[string]float64, now time.Time) error {
	believed := led.TotalHoldings()

	deltas := make(map[string]float64)
	for sym, shares := range believed {
		deltas[sym] = report[sym] - shares
	}
	for sym, shares := range report {
		if _, ok := believed[sym]; !ok {
			deltas[sym] = shares
		}
	}

	nonzero := make(map[string]float64)
	exceeded := false
	for sym, d := range deltas {
		if d == 0 {
			continue
		}
		nonzero[sym] = d
		if d > r.tolerance || d < -r.tolerance {
			exceeded = true
		}
	}

	if len(nonzero) == 0 {
		return nil
	}
	if exceeded {
		return &DriftAlertError{Deltas: nonzero}
	}

	for sym, d := range nonzero {
		led.AdjustTo(sym, report[sym], prices[sym], now)
		r.log.Info().
			Str("symbol", sym).
			Float64("delta", d).
			Float64("reported", report[sym]).
			Msg("ledger adjusted to venue report")
	}
	return nil
}
