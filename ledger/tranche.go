// Package ledger holds the authoritative in-memory state of the strategy:
// a fixed set of capital tranches, their holdings and position records, and
// the per-position stop-loss / take-profit guard.
//
// The ledger is a single-writer structure. Only the cycle goroutine mutates
// it; everything else observes it through immutable snapshots.
package ledger

import (
	"time"
)

// PositionRecord tracks one open position inside a tranche. HighPrice is
// the high-water mark since entry and drives the trailing take-profit.
type PositionRecord struct {
	Symbol     string
	Shares     float64
	EntryPrice float64
	HighPrice  float64
	EntryAt    time.Time
}

// Tranche is one fixed partition of strategy capital, rebalanced on its own
// rotation day and guarded independently of its siblings.
type Tranche struct {
	ID                  int
	Cash                float64
	Holdings            map[string]float64
	Records             map[string]*PositionRecord
	TotalValue          float64
	GuardTriggeredToday bool

	// symbol -> trading-calendar date ("2006-01-02") of the last non-none
	// guard result. Keeps the guard to one firing per symbol per day.
	guardFired map[string]string
}

func newTranche(id int, cash float64) *Tranche {
	return &Tranche{
		ID:         id,
		Cash:       cash,
		Holdings:   make(map[string]float64),
		Records:    make(map[string]*PositionRecord),
		TotalValue: cash,
		guardFired: make(map[string]string),
	}
}

// Revalue recomputes the tranche's total value from current prices and
// advances each position's high-water mark. Symbols without a quote keep
// their last known contribution out of the total.
func (t *Tranche) Revalue(prices map[string]float64) {
	val := t.Cash
	for sym, shares := range t.Holdings {
		p, ok := prices[sym]
		if !ok || p <= 0 {
			if rec := t.Records[sym]; rec != nil {
				val += shares * rec.HighPrice
			}
			continue
		}
		val += shares * p
		if rec := t.Records[sym]; rec != nil && p > rec.HighPrice {
			rec.HighPrice = p
		}
	}
	t.TotalValue = val
}

// applyFill mutates holdings, cash, and the position record for one
// confirmed fill. Positive delta buys, negative sells.
func (t *Tranche) applyFill(symbol string, delta, price float64, at time.Time) error {
	have := t.Holdings[symbol]
	next := have + delta
	if next < 0 {
		return &NegativeHoldingError{TrancheID: t.ID, Symbol: symbol, Have: have, Delta: delta}
	}

	t.Cash -= delta * price

	if next == 0 {
		delete(t.Holdings, symbol)
		delete(t.Records, symbol)
		return nil
	}

	t.Holdings[symbol] = next
	rec, ok := t.Records[symbol]
	if !ok {
		// New open: the entry price and timestamp are fixed here and
		// survive partial fills.
		t.Records[symbol] = &PositionRecord{
			Symbol:     symbol,
			Shares:     next,
			EntryPrice: price,
			HighPrice:  price,
			EntryAt:    at,
		}
		return nil
	}
	rec.Shares = next
	if price > rec.HighPrice {
		rec.HighPrice = price
	}
	return nil
}

// adjustHolding force-sets a holding to the venue-reported quantity during
// reconciliation, keeping the record-holding pairing intact. Cash is not
// touched: the adjustment reflects fills that already settled at the venue.
func (t *Tranche) adjustHolding(symbol string, shares float64, price float64, at time.Time) {
	if shares <= 0 {
		delete(t.Holdings, symbol)
		delete(t.Records, symbol)
		return
	}
	t.Holdings[symbol] = shares
	if rec, ok := t.Records[symbol]; ok {
		rec.Shares = shares
		return
	}
	t.Records[symbol] = &PositionRecord{
		Symbol:     symbol,
		Shares:     shares,
		EntryPrice: price,
		HighPrice:  price,
		EntryAt:    at,
	}
}
