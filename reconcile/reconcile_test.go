package reconcile

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/calendar"
	"github.com/rustyeddy/tranche/ledger"
)

var monday = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(ledger.GuardConfig{StopLoss: 0.2, TrailingTrigger: 0.15, TrailingDrop: 0.03},
		calendar.New(time.UTC, nil), zerolog.Nop())
	l.Initialize(30000, 3)
	return l
}

func TestReconcileNoDriftIsNoOp(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	require.NoError(t, l.ApplyFill(0, "510300", 100, 4.0, monday))

	r := New(0.5, zerolog.Nop())
	err := r.Reconcile(l, broker.PositionReport{"510300": 100}, map[string]float64{"510300": 4.0}, monday)

	require.NoError(t, err)
	assert.Equal(t, 100.0, l.TotalHoldings()["510300"])
}

func TestReconcileSmallDriftAdjustsSilently(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	require.NoError(t, l.ApplyFill(0, "510300", 100, 4.0, monday))

	r := New(0.5, zerolog.Nop())
	err := r.Reconcile(l, broker.PositionReport{"510300": 100.25}, map[string]float64{"510300": 4.0}, monday)

	require.NoError(t, err)
	assert.Equal(t, 100.25, l.TotalHoldings()["510300"])
}

func TestReconcileLargeDriftAlertsWithoutAdjusting(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	require.NoError(t, l.ApplyFill(0, "510300", 100, 4.0, monday))
	require.NoError(t, l.ApplyFill(1, "159915", 200, 2.5, monday))

	r := New(0.5, zerolog.Nop())
	// One symbol beyond tolerance; the other within it. The alert carries
	// both nonzero deltas and nothing is adjusted, not even the small one.
	err := r.Reconcile(l, broker.PositionReport{"510300": 150, "159915": 200.25},
		map[string]float64{"510300": 4.0, "159915": 2.5}, monday)

	var drift *DriftAlertError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, map[string]float64{"510300": 50.0, "159915": 0.25}, drift.Deltas)
	assert.Contains(t, drift.Error(), "510300:+50.00")

	assert.Equal(t, 100.0, l.TotalHoldings()["510300"])
	assert.Equal(t, 200.0, l.TotalHoldings()["159915"])
}

func TestReconcileSymbolOnlyAtVenue(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	r := New(0.5, zerolog.Nop())

	// The venue reports a position the ledger has never heard of.
	err := r.Reconcile(l, broker.PositionReport{"512880": 300}, map[string]float64{"512880": 1.1}, monday)

	var drift *DriftAlertError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, 300.0, drift.Deltas["512880"])
}

func TestReconcileSymbolMissingAtVenue(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	require.NoError(t, l.ApplyFill(0, "510300", 0.4, 4.0, monday))

	r := New(0.5, zerolog.Nop())
	// A ledger position absent from the report counts as a negative delta;
	// within tolerance it is removed.
	err := r.Reconcile(l, broker.PositionReport{}, map[string]float64{"510300": 4.0}, monday)

	require.NoError(t, err)
	assert.NotContains(t, l.TotalHoldings(), "510300")
}
