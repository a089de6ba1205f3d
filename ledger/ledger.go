package ledger

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tranche/calendar"
)

// Ledger owns the full set of tranches plus the cycle counter. It is the
// planning projection of what the strategy believes it holds; the venue
// report is authoritative for realized quantities and reconciliation pulls
// the ledger back to it.
type Ledger struct {
	tranches    []*Tranche
	daysCount   int64
	committedAt time.Time
	initialized bool

	guard GuardConfig
	cal   *calendar.Calendar
	log   zerolog.Logger
}

// New returns an empty, uninitialized ledger. Tranches appear either via
// Initialize (fresh deployment) or Restore (recovery).
func New(guard GuardConfig, cal *calendar.Calendar, log zerolog.Logger) *Ledger {
	return &Ledger{
		guard: guard,
		cal:   cal,
		log:   log,
	}
}

// Initialize splits total cash evenly into count tranches. Called exactly
// once per deployment, before the first cycle.
func (l *Ledger) Initialize(totalCash float64, count int) {
	share := totalCash / float64(count)
	l.tranches = make([]*Tranche, count)
	for i := range l.tranches {
		l.tranches[i] = newTranche(i, share)
	}
	l.initialized = true
	l.log.Info().Int("tranches", count).Float64("cash_per_tranche", share).
		Msg("ledger initialized")
}

// Initialized reports whether the ledger carries tranche state.
func (l *Ledger) Initialized() bool { return l.initialized }

// DaysCount returns the completed-cycle counter.
func (l *Ledger) DaysCount() int64 { return l.daysCount }

// AdvanceCycle increments the cycle counter by exactly one. Any calendar
// gap since the last commit is the caller's to log as a missed-cycle event.
func (l *Ledger) AdvanceCycle() {
	l.daysCount++
}

// CommittedAt returns the timestamp of the last durable commit.
func (l *Ledger) CommittedAt() time.Time { return l.committedAt }

// TrancheCount returns the fixed number of tranches.
func (l *Ledger) TrancheCount() int { return len(l.tranches) }

// ActiveIndex returns the tranche rotated into rebalancing this cycle.
func (l *Ledger) ActiveIndex() int {
	if len(l.tranches) == 0 {
		return 0
	}
	n := int((l.daysCount - 1) % int64(len(l.tranches)))
	if n < 0 {
		n = 0
	}
	return n
}

// Active returns the tranche being rebalanced this cycle.
func (l *Ledger) Active() *Tranche {
	return l.tranches[l.ActiveIndex()]
}

// Tranches returns the tranche slice in rotation order. Callers must not
// mutate it outside the cycle goroutine.
func (l *Ledger) Tranches() []*Tranche { return l.tranches }

func (l *Ledger) tranche(id int) (*Tranche, error) {
	if id < 0 || id >= len(l.tranches) {
		return nil, &UnknownTrancheError{ID: id}
	}
	return l.tranches[id], nil
}

// ApplyFill applies one confirmed fill to a tranche.
func (l *Ledger) ApplyFill(trancheID int, symbol string, deltaShares, price float64, at time.Time) error {
	t, err := l.tranche(trancheID)
	if err != nil {
		return err
	}
	return t.applyFill(symbol, deltaShares, price, at)
}

// Revalue recomputes every tranche's value from current prices.
func (l *Ledger) Revalue(prices map[string]float64) {
	for _, t := range l.tranches {
		t.Revalue(prices)
	}
}

// TotalValue sums tranche values. Valid after a Revalue.
func (l *Ledger) TotalValue() float64 {
	var v float64
	for _, t := range l.tranches {
		v += t.TotalValue
	}
	return v
}

// TotalHoldings aggregates share counts across all tranches.
func (l *Ledger) TotalHoldings() map[string]float64 {
	combined := make(map[string]float64)
	for _, t := range l.tranches {
		for sym, shares := range t.Holdings {
			combined[sym] += shares
		}
	}
	return combined
}

// Symbols returns the sorted set of symbols with nonzero holdings.
func (l *Ledger) Symbols() []string {
	h := l.TotalHoldings()
	out := make([]string, 0, len(h))
	for sym := range h {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// AdjustTo forces the ledger's total holding of symbol to the venue-
// reported quantity. Shortfalls are removed from tranches in rotation
// order; surpluses land in the active tranche. Cash is untouched: the
// venue already settled these fills.
func (l *Ledger) AdjustTo(symbol string, reported float64, price float64, at time.Time) {
	total := l.TotalHoldings()[symbol]
	diff := total - reported

	switch {
	case diff > 0:
		remaining := diff
		for _, t := range l.tranches {
			have, ok := t.Holdings[symbol]
			if !ok {
				continue
			}
			remove := have
			if remove > remaining {
				remove = remaining
			}
			t.adjustHolding(symbol, have-remove, price, at)
			remaining -= remove
			if remaining <= 0 {
				break
			}
		}
	case diff < 0:
		t := l.Active()
		t.adjustHolding(symbol, t.Holdings[symbol]-diff, price, at)
	}
}
