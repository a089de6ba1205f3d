// Package sim is a scriptable in-memory venue for tests and dry runs.
// Outcomes are scripted per symbol: immediate fills by default, or delayed,
// partial, rejected, and transiently failing paths on demand.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/id"
)

// Script controls how the venue disposes of orders for one symbol.
type Script struct {
	// PollsUntilTerminal is how many status polls return pending before
	// the terminal status appears. Zero means terminal immediately.
	PollsUntilTerminal int
	// Status is the terminal disposition. Empty means filled.
	Status broker.OrderStatus
	// FillFraction scales the filled share count for partial fills.
	// Zero means fully filled (for filled status).
	FillFraction float64
	// SubmitErr, when set, fails SubmitOrder with this error.
	SubmitErr error
	// TransientSubmitFailures fails that many submissions with a
	// transient error before accepting one.
	TransientSubmitFailures int
}

type simOrder struct {
	order     broker.Order
	script    Script
	polls     int
	cancelled bool
	settled   bool
}

// Venue is the scriptable venue. The zero value is not usable; call New.
type Venue struct {
	mu        sync.Mutex
	nav       float64
	positions map[string]float64
	prices    map[string]float64
	scripts   map[string]Script
	orders    map[string]*simOrder

	submitFailures map[string]int
	// CancelRequests records every CancelOrder call, in order.
	CancelRequests []string
}

var ErrUnknownOrder = errors.New("unknown order id")

// New creates a venue with the given NAV and starting positions.
func New(nav float64, positions map[string]float64) *Venue {
	pos := make(map[string]float64, len(positions))
	for s, q := range positions {
		pos[s] = q
	}
	return &Venue{
		nav:            nav,
		positions:      pos,
		prices:         make(map[string]float64),
		scripts:        make(map[string]Script),
		orders:         make(map[string]*simOrder),
		submitFailures: make(map[string]int),
	}
}

// SetNAV updates the reported net asset value.
func (v *Venue) SetNAV(nav float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nav = nav
}

// SetPrice sets the quoted price for a symbol.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

// SetPositions replaces the reported positions.
func (v *Venue) SetPositions(positions map[string]float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions = make(map[string]float64, len(positions))
	for s, q := range positions {
		v.positions[s] = q
	}
}

// ScriptSymbol installs an outcome script for a symbol.
func (v *Venue) ScriptSymbol(symbol string, s Script) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scripts[symbol] = s
}

func (v *Venue) GetNAV(ctx context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nav, nil
}

func (v *Venue) GetPositions(ctx context.Context) (broker.PositionReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rep := make(broker.PositionReport, len(v.positions))
	for s, q := range v.positions {
		rep[s] = q
	}
	return rep, nil
}

func (v *Venue) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := v.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, o broker.Order) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	script := v.scripts[o.Symbol]
	if script.SubmitErr != nil {
		return "", script.SubmitErr
	}
	if script.TransientSubmitFailures > v.submitFailures[o.Symbol] {
		v.submitFailures[o.Symbol]++
		return "", broker.Transient(fmt.Errorf("simulated submit failure for %s", o.Symbol))
	}

	oid := id.New()
	v.orders[oid] = &simOrder{order: o, script: script}
	return oid, nil
}

func (v *Venue) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	so, ok := v.orders[orderID]
	if !ok {
		return broker.OrderState{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	st := broker.OrderState{OrderID: orderID, Status: broker.StatusPending}
	if so.cancelled {
		st.Status = broker.StatusCancelled
		return st, nil
	}
	if so.polls < so.script.PollsUntilTerminal {
		so.polls++
		return st, nil
	}

	status := so.script.Status
	if status == "" {
		status = broker.StatusFilled
	}
	st.Status = status
	switch status {
	case broker.StatusFilled:
		st.FilledShares = so.order.DeltaShares
		st.AvgPrice = v.fillPrice(so.order)
	case broker.StatusPartiallyFilled:
		frac := so.script.FillFraction
		if frac <= 0 || frac >= 1 {
			frac = 0.5
		}
		st.FilledShares = so.order.DeltaShares * frac
		st.AvgPrice = v.fillPrice(so.order)
	}
	// Settle exactly once no matter how often the terminal state is polled.
	if st.FilledShares != 0 && !so.settled {
		so.settled = true
		v.settle(so.order, st.FilledShares)
	}
	return st, nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	so, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	so.cancelled = true
	v.CancelRequests = append(v.CancelRequests, orderID)
	return nil
}

func (v *Venue) fillPrice(o broker.Order) float64 {
	if p, ok := v.prices[o.Symbol]; ok {
		return p
	}
	return o.Price
}

// settle applies a fill to the reported positions so a post-trade
// GetPositions reflects what executed. Caller holds the lock.
func (v *Venue) settle(o broker.Order, filled float64) {
	q := v.positions[o.Symbol] + filled
	if q == 0 {
		delete(v.positions, o.Symbol)
		return
	}
	v.positions[o.Symbol] = q
}
