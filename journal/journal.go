// Package journal keeps the append-only audit trail of cycles and order
// outcomes in SQLite. The journal is evidence, not state: the engine never
// reads it back to make decisions, so a journaling failure is logged and
// the cycle goes on.
package journal

import "time"

// CycleRecord summarizes one trading cycle.
type CycleRecord struct {
	BatchID    string
	DaysCount  int64
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string // completed, tripped, halted, drift_blocked, failed
	NAV        float64
	Note       string
}

// OrderRecord is the final disposition of one order.
type OrderRecord struct {
	ClientID     string
	BatchID      string
	Symbol       string
	TrancheID    int
	DeltaShares  float64
	RefPrice     float64
	VenueOrderID string
	Status       string
	FilledShares float64
	AvgPrice     float64
	Error        string
	RecordedAt   time.Time
}

// Journal records cycle and order audit rows.
type Journal interface {
	RecordCycle(CycleRecord) error
	RecordOrder(OrderRecord) error
	Close() error
}

// Nop discards everything; used when no journal path is configured.
type Nop struct{}

func (Nop) RecordCycle(CycleRecord) error { return nil }
func (Nop) RecordOrder(OrderRecord) error { return nil }
func (Nop) Close() error                  { return nil }
