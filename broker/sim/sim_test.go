package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tranche/broker"
)

func TestFillSettlesExactlyOnce(t *testing.T) {
	t.Parallel()

	v := New(100000, map[string]float64{"510300": 100})
	v.SetPrice("510300", 4.0)

	oid, err := v.SubmitOrder(context.Background(), broker.Order{
		ClientID: "c1", Symbol: "510300", DeltaShares: 200, Price: 4.0,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		st, err := v.GetOrderStatus(context.Background(), oid)
		require.NoError(t, err)
		assert.Equal(t, broker.StatusFilled, st.Status)
		assert.Equal(t, 200.0, st.FilledShares)
		assert.Equal(t, 4.0, st.AvgPrice)
	}

	rep, err := v.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300.0, rep["510300"])
}

func TestDelayedPartialFill(t *testing.T) {
	t.Parallel()

	v := New(100000, nil)
	v.SetPrice("159915", 2.5)
	v.ScriptSymbol("159915", Script{
		PollsUntilTerminal: 2,
		Status:             broker.StatusPartiallyFilled,
		FillFraction:       0.25,
	})

	oid, err := v.SubmitOrder(context.Background(), broker.Order{
		ClientID: "c1", Symbol: "159915", DeltaShares: 400, Price: 2.5,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		st, err := v.GetOrderStatus(context.Background(), oid)
		require.NoError(t, err)
		assert.Equal(t, broker.StatusPending, st.Status)
	}

	st, err := v.GetOrderStatus(context.Background(), oid)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusPartiallyFilled, st.Status)
	assert.Equal(t, 100.0, st.FilledShares)

	rep, err := v.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, rep["159915"])
}

func TestCancelBeatsTerminalStatus(t *testing.T) {
	t.Parallel()

	v := New(100000, nil)
	v.SetPrice("510300", 4.0)
	v.ScriptSymbol("510300", Script{PollsUntilTerminal: 100})

	oid, err := v.SubmitOrder(context.Background(), broker.Order{
		ClientID: "c1", Symbol: "510300", DeltaShares: 100, Price: 4.0,
	})
	require.NoError(t, err)
	require.NoError(t, v.CancelOrder(context.Background(), oid))

	st, err := v.GetOrderStatus(context.Background(), oid)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCancelled, st.Status)
	assert.Equal(t, []string{oid}, v.CancelRequests)

	rep, err := v.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep)
}

func TestTransientSubmitFailuresThenAccept(t *testing.T) {
	t.Parallel()

	v := New(100000, nil)
	v.ScriptSymbol("510300", Script{TransientSubmitFailures: 2})

	o := broker.Order{ClientID: "c1", Symbol: "510300", DeltaShares: 100, Price: 4.0}
	for i := 0; i < 2; i++ {
		_, err := v.SubmitOrder(context.Background(), o)
		require.Error(t, err)
		assert.True(t, broker.IsTransient(err))
	}

	oid, err := v.SubmitOrder(context.Background(), o)
	require.NoError(t, err)
	assert.NotEmpty(t, oid)
}

func TestUnknownOrderID(t *testing.T) {
	t.Parallel()

	v := New(100000, nil)
	_, err := v.GetOrderStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownOrder)
	assert.ErrorIs(t, v.CancelOrder(context.Background(), "nope"), ErrUnknownOrder)
}
