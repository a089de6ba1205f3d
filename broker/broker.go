// Package broker defines the execution-venue boundary. The engine treats
// every call as fallible and potentially slow; implementations wrap a real
// brokerage API, and broker/sim provides a scriptable in-memory venue for
// tests.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// OrderStatus is the venue-reported disposition of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusFilled          OrderStatus = "filled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the venue will make no further progress on an
// order in this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusPartiallyFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Order is one intended position change. Positive DeltaShares buys,
// negative sells. Price is the reference price used for notional checks,
// not a limit.
type Order struct {
	ClientID    string
	Symbol      string
	DeltaShares float64
	Price       float64
	TrancheID   int
}

// Notional returns the unsigned reference value of the order.
func (o Order) Notional() float64 {
	n := o.DeltaShares * o.Price
	if n < 0 {
		return -n
	}
	return n
}

// OrderState is a point-in-time venue view of a submitted order.
type OrderState struct {
	OrderID      string
	Status       OrderStatus
	FilledShares float64
	AvgPrice     float64
}

// PositionReport maps symbol to venue-reported share count at a point in
// time. Ephemeral; fetched per reconciliation pass, never persisted.
type PositionReport map[string]float64

// Venue is the external execution counterparty.
type Venue interface {
	GetPositions(ctx context.Context) (PositionReport, error)
	GetNAV(ctx context.Context) (float64, error)
	SubmitOrder(ctx context.Context, o Order) (orderID string, err error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PriceSource supplies current prices. Market-data retrieval itself is an
// external collaborator; the engine only consumes this boundary.
type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// TransientError marks a venue failure worth retrying: timeouts,
// disconnects, throttling. Anything else is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient venue error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable venue failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RejectionError is a permanent per-order rejection (bad symbol,
// insufficient funds). Never retried; reported individually.
type RejectionError struct {
	Symbol string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected: %s: %s", e.Symbol, e.Reason)
}
