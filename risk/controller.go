package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/calendar"
)

// Config carries the breaker thresholds. MaxOrderNotional comes from the
// deployment configuration; there is no built-in default.
type Config struct {
	MaxDailyLossPct  float64
	TripHaltLimit    int
	MaxOrderNotional float64
}

// Controller is the risk state machine. Single-writer, like the ledger:
// only the cycle goroutine calls it.
type Controller struct {
	cfg   Config
	state State
	cal   *calendar.Calendar
	log   zerolog.Logger
}

// NewController starts a controller in ARMED with no history.
func NewController(cfg Config, cal *calendar.Calendar, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:   cfg,
		state: State{Status: Armed},
		cal:   cal,
		log:   log,
	}
}

// State returns a copy of the persisted state.
func (c *Controller) State() State {
	s := c.state
	s.TrippedDates = append([]string(nil), c.state.TrippedDates...)
	return s
}

// Restore replaces the controller state from a decoded state file.
func (c *Controller) Restore(s *State) {
	c.state = *s
	c.state.TrippedDates = append([]string(nil), s.TrippedDates...)
}

// OnDayStart performs the day rollover: it locks in the opening NAV and
// re-arms the breaker. A prior day that ended TRIPPED advances the
// escalation streak; ending ARMED resets it. Reaching the streak limit
// hard-halts the controller. Calling it again within the same trading day
// is a no-op.
func (c *Controller) OnDayStart(now time.Time, nav float64) {
	day := c.cal.DateKey(now)
	if c.state.Day == day {
		return
	}

	prior := c.state.Status
	switch prior {
	case Tripped:
		c.state.TrippedStreak++
		if c.state.TrippedStreak >= c.cfg.TripHaltLimit {
			c.state.Status = Halted
			c.log.Error().
				Int("streak", c.state.TrippedStreak).
				Int("limit", c.cfg.TripHaltLimit).
				Msg("consecutive tripped days reached limit, halting until operator clears")
		} else {
			c.state.Status = Armed
		}
	case Armed:
		c.state.TrippedStreak = 0
	case Halted:
		// Stays halted across rollovers; only ClearHalt leaves it.
	}

	c.state.Day = day
	c.state.OpeningNAV = nav
	c.state.UpdatedAt = now
	c.log.Info().
		Str("day", day).
		Float64("opening_nav", nav).
		Str("status", string(c.state.Status)).
		Int("tripped_streak", c.state.TrippedStreak).
		Msg("risk day start")
}

// CheckDrawdown trips the breaker when intraday drawdown from the opening
// NAV exceeds the configured threshold. Once tripped, the day stays tripped
// even if NAV recovers.
func (c *Controller) CheckDrawdown(now time.Time, nav float64) Status {
	if c.state.Status != Armed || c.state.OpeningNAV <= 0 {
		return c.state.Status
	}
	dd := 1 - nav/c.state.OpeningNAV
	if dd > c.cfg.MaxDailyLossPct {
		c.state.Status = Tripped
		c.state.TrippedDates = append(c.state.TrippedDates, c.cal.DateKey(now))
		c.state.UpdatedAt = now
		c.log.Error().
			Float64("drawdown", dd).
			Float64("limit", c.cfg.MaxDailyLossPct).
			Float64("nav", nav).
			Float64("opening_nav", c.state.OpeningNAV).
			Msg("daily loss breaker tripped, no further submissions today")
	}
	return c.state.Status
}

// Status returns the current gate state.
func (c *Controller) Status() Status { return c.state.Status }

// Halted reports whether the whole cycle must abort. TRIPPED merely skips
// submissions; HALTED signals a structural fault and stops everything until
// an operator clears it.
func (c *Controller) Halted() bool { return c.state.Status == Halted }

// CanSubmit reports whether new order submission is permitted.
func (c *Controller) CanSubmit() bool { return c.state.Status == Armed }

// ClearHalt is the operator's explicit reset out of HALTED.
func (c *Controller) ClearHalt(now time.Time) {
	c.state.Status = Armed
	c.state.TrippedStreak = 0
	c.state.UpdatedAt = now
	c.log.Warn().Msg("operator cleared halt")
}

// Violation is one constraint an order breaks.
type Violation struct {
	Code string
	Msg  string
}

// ValidateOrder returns the ordered list of constraints the order violates,
// empty when the order is clean. Callers report the specifics instead of a
// bare reject.
func (c *Controller) ValidateOrder(o broker.Order) []Violation {
	var v []Violation

	if !c.CanSubmit() {
		v = append(v, Violation{
			Code: "GATE_" + string(c.state.Status),
			Msg:  fmt.Sprintf("risk gate is %s, submissions forbidden", c.state.Status),
		})
	}
	if o.DeltaShares == 0 {
		v = append(v, Violation{Code: "ZERO_SHARES", Msg: "order has no share delta"})
	}
	if o.Price <= 0 {
		v = append(v, Violation{Code: "NO_PRICE", Msg: "order has no reference price"})
	}
	notional := o.DeltaShares * o.Price
	if notional < 0 {
		notional = -notional
	}
	if notional > c.cfg.MaxOrderNotional {
		v = append(v, Violation{
			Code: "NOTIONAL_CAP",
			Msg: fmt.Sprintf("order notional %.2f exceeds cap %.2f",
				notional, c.cfg.MaxOrderNotional),
		})
	}
	return v
}
