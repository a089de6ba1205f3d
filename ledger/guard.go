package ledger

import (
	"time"
)

// GuardAction is the outcome of a guard check.
type GuardAction int

const (
	GuardNone GuardAction = iota
	GuardStopLoss
	GuardTakeProfit
)

func (g GuardAction) String() string {
	switch g {
	case GuardStopLoss:
		return "stop_loss"
	case GuardTakeProfit:
		return "take_profit"
	default:
		return "none"
	}
}

// GuardConfig carries the liquidation thresholds. StopLoss and TrailingDrop
// are fractions of entry and high-water price respectively.
type GuardConfig struct {
	StopLoss        float64
	TrailingTrigger float64
	TrailingDrop    float64
	ProtectionDays  int
}

// CheckGuard evaluates the stop-loss / trailing take-profit for one symbol
// in one tranche at the current price. It fires at most once per symbol per
// trading-calendar day; the day boundary is the venue calendar's date, so a
// process in another timezone never double-fires or skips the reset.
func (l *Ledger) CheckGuard(trancheID int, symbol string, price float64, now time.Time) (GuardAction, error) {
	t, err := l.tranche(trancheID)
	if err != nil {
		return GuardNone, err
	}

	rec, ok := t.Records[symbol]
	if !ok || price <= 0 {
		return GuardNone, nil
	}

	day := l.cal.DateKey(now)
	if t.guardFired[symbol] == day {
		return GuardNone, nil
	}

	// Protection period: no guard during the first N calendar days held.
	if l.guard.ProtectionDays > 0 {
		held := int(l.cal.Date(now).Sub(l.cal.Date(rec.EntryAt)).Hours() / 24)
		if held <= l.guard.ProtectionDays {
			return GuardNone, nil
		}
	}

	if price > rec.HighPrice {
		rec.HighPrice = price
	}

	action := GuardNone
	switch {
	case price < rec.EntryPrice*(1-l.guard.StopLoss):
		action = GuardStopLoss
	case rec.HighPrice > rec.EntryPrice*(1+l.guard.TrailingTrigger) &&
		price < rec.HighPrice*(1-l.guard.TrailingDrop):
		action = GuardTakeProfit
	}

	if action != GuardNone {
		t.guardFired[symbol] = day
		t.GuardTriggeredToday = true
		l.log.Warn().
			Int("tranche", trancheID).
			Str("symbol", symbol).
			Str("action", action.String()).
			Float64("price", price).
			Float64("entry", rec.EntryPrice).
			Float64("high", rec.HighPrice).
			Msg("guard triggered")
	}
	return action, nil
}

// ResetGuardDay clears the per-day guard flags at the start of a new
// trading day.
func (l *Ledger) ResetGuardDay() {
	for _, t := range l.tranches {
		t.GuardTriggeredToday = false
	}
}
