package ledger

import "fmt"

// UnknownTrancheError reports a fill against a tranche ID the ledger does
// not track.
type UnknownTrancheError struct {
	ID int
}

func (e *UnknownTrancheError) Error() string {
	return fmt.Sprintf("unknown tranche %d", e.ID)
}

// NegativeHoldingError reports a fill that would drive a holding below zero.
type NegativeHoldingError struct {
	TrancheID int
	Symbol    string
	Have      float64
	Delta     float64
}

func (e *NegativeHoldingError) Error() string {
	return fmt.Sprintf("tranche %d: fill %s %+.2f would leave %.2f shares",
		e.TrancheID, e.Symbol, e.Delta, e.Have+e.Delta)
}

// SchemaError reports a snapshot that cannot be restored: a required field
// is missing or malformed. Temporal fields in particular must parse; they
// are never coerced to an unset value, because a silently absent entry time
// disables the guard's protection-period logic without any visible failure.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("snapshot schema: %s: %s", e.Field, e.Reason)
}
