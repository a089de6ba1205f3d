package engine

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/id"
	"github.com/rustyeddy/tranche/ledger"
)

// guardOrders runs the guard across every tranche and returns full
// liquidation orders for positions whose stop-loss or trailing take-profit
// fired.
func (e *Engine) guardOrders(now time.Time) []broker.Order {
	var orders []broker.Order
	for _, t := range e.led.Tranches() {
		syms := make([]string, 0, len(t.Holdings))
		for sym := range t.Holdings {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		for _, sym := range syms {
			price := e.lastPrices[sym]
			action, err := e.led.CheckGuard(t.ID, sym, price, now)
			if err != nil {
				e.log.Error().Err(err).Int("tranche", t.ID).Msg("guard check failed")
				continue
			}
			if action == ledger.GuardNone {
				continue
			}
			orders = append(orders, broker.Order{
				ClientID:    id.New(),
				Symbol:      sym,
				DeltaShares: -t.Holdings[sym],
				Price:       price,
				TrancheID:   t.ID,
			})
		}
	}
	return orders
}

// rotationOrders converts the target weights into share deltas for the
// active tranche. Holdings outside the target set sell out entirely; the
// rest move toward target value, buys rounded down to the lot size and
// capped by projected cash.
func (e *Engine) rotationOrders(weights map[string]float64, now time.Time) []broker.Order {
	active := e.led.Active()
	lot := e.cfg.Tranches.LotSize

	var totalW float64
	for _, w := range weights {
		totalW += w
	}

	var orders []broker.Order
	projectedCash := active.Cash

	// Sells first: dropped holdings liquidate, and their proceeds fund
	// the buys below.
	held := make([]string, 0, len(active.Holdings))
	for sym := range active.Holdings {
		held = append(held, sym)
	}
	sort.Strings(held)
	for _, sym := range held {
		if _, keep := weights[sym]; keep {
			continue
		}
		price := e.lastPrices[sym]
		if price <= 0 {
			continue
		}
		shares := active.Holdings[sym]
		orders = append(orders, broker.Order{
			ClientID:    id.New(),
			Symbol:      sym,
			DeltaShares: -shares,
			Price:       price,
			TrancheID:   active.ID,
		})
		projectedCash += shares * price
	}

	if totalW <= 0 {
		return orders
	}
	investable := active.TotalValue * (1 - e.cfg.Tranches.CashReserve)
	unitVal := investable / totalW

	targets := make([]string, 0, len(weights))
	for sym := range weights {
		targets = append(targets, sym)
	}
	sort.Strings(targets)

	for _, sym := range targets {
		price := e.lastPrices[sym]
		if price <= 0 {
			e.log.Warn().Str("symbol", sym).Msg("no price for target, skipping")
			continue
		}
		targetVal := unitVal * weights[sym]
		currentVal := active.Holdings[sym] * price
		diffVal := targetVal - currentVal

		switch {
		case diffVal > 0:
			shares := math.Floor(diffVal/price/lot) * lot
			cost := shares * price
			if shares <= 0 {
				continue
			}
			if cost > projectedCash {
				e.log.Warn().
					Str("symbol", sym).
					Float64("cost", cost).
					Float64("cash", projectedCash).
					Msg("buy exceeds projected cash, skipping")
				continue
			}
			projectedCash -= cost
			orders = append(orders, broker.Order{
				ClientID:    id.New(),
				Symbol:      sym,
				DeltaShares: shares,
				Price:       price,
				TrancheID:   active.ID,
			})
		// Small overweights ride; trimming every wobble would churn
		// the book. Only cut when the excess passes a fifth of target.
		case diffVal < 0 && -diffVal > targetVal*0.2:
			shares := math.Floor(-diffVal/price/lot) * lot
			if shares <= 0 {
				continue
			}
			if shares > active.Holdings[sym] {
				shares = active.Holdings[sym]
			}
			orders = append(orders, broker.Order{
				ClientID:    id.New(),
				Symbol:      sym,
				DeltaShares: -shares,
				Price:       price,
				TrancheID:   active.ID,
			})
			projectedCash += shares * price
		}
	}
	return orders
}

// liquidationOrders sells out every holding of the active tranche; used
// when the guard fired there or no target allocation is available.
func (e *Engine) liquidationOrders(now time.Time) []broker.Order {
	active := e.led.Active()
	syms := make([]string, 0, len(active.Holdings))
	for sym := range active.Holdings {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	var orders []broker.Order
	for _, sym := range syms {
		price := e.lastPrices[sym]
		if price <= 0 {
			continue
		}
		orders = append(orders, broker.Order{
			ClientID:    id.New(),
			Symbol:      sym,
			DeltaShares: -active.Holdings[sym],
			Price:       price,
			TrancheID:   active.ID,
		})
	}
	return orders
}
