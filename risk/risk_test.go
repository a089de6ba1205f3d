package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tranche/broker"
	"github.com/rustyeddy/tranche/calendar"
)

var testCfg = Config{
	MaxDailyLossPct:  0.04,
	TripHaltLimit:    3,
	MaxOrderNotional: 50000,
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	cal := calendar.New(time.UTC, nil)
	return NewController(testCfg, cal, zerolog.Nop())
}

// Consecutive trading days, all weekdays.
var (
	day1 = time.Date(2025, 6, 2, 14, 55, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
	day4 = day1.AddDate(0, 0, 3)
)

func TestStartsArmed(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	assert.Equal(t, Armed, c.Status())
	assert.True(t, c.CanSubmit())
	assert.False(t, c.Halted())
}

func TestTripOnDrawdownNoRecovery(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	c.OnDayStart(day1, 100000)

	// At or under the limit does not trip.
	assert.Equal(t, Armed, c.CheckDrawdown(day1, 96001))

	assert.Equal(t, Tripped, c.CheckDrawdown(day1, 95000))
	assert.False(t, c.CanSubmit())
	assert.False(t, c.Halted(), "tripped is not halted")

	// NAV recovering within the day does not re-arm.
	assert.Equal(t, Tripped, c.CheckDrawdown(day1.Add(time.Hour), 99000))
	assert.Equal(t, []string{"2025-06-02"}, c.State().TrippedDates)
}

func TestRolloverReArmsAndTracksStreak(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	c.OnDayStart(day1, 100000)
	require.Equal(t, Tripped, c.CheckDrawdown(day1, 90000))

	c.OnDayStart(day2, 90000)
	assert.Equal(t, Armed, c.Status())
	assert.Equal(t, 1, c.State().TrippedStreak)
	assert.Equal(t, 90000.0, c.State().OpeningNAV)

	// A clean day resets the streak on the next rollover.
	c.OnDayStart(day3, 91000)
	assert.Equal(t, 0, c.State().TrippedStreak)
}

func TestConsecutiveTrippedDaysEscalateToHalt(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	days := []time.Time{day1, day2, day3}
	nav := 100000.0
	for _, d := range days {
		c.OnDayStart(d, nav)
		nav *= 0.90
		require.Equal(t, Tripped, c.CheckDrawdown(d, nav))
	}

	// Third consecutive tripped day rolls over into HALTED.
	c.OnDayStart(day4, nav)
	assert.Equal(t, Halted, c.Status())
	assert.True(t, c.Halted())
	assert.Equal(t, 3, c.State().TrippedStreak)

	// HALTED survives further rollovers.
	c.OnDayStart(day4.AddDate(0, 0, 4), nav)
	assert.Equal(t, Halted, c.Status())
}

func TestSameDayRolloverIsNoOp(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	c.OnDayStart(day1, 100000)
	require.Equal(t, Tripped, c.CheckDrawdown(day1, 90000))

	// A restart later the same day must not re-arm the tripped breaker.
	c.OnDayStart(day1.Add(2*time.Hour), 90000)
	assert.Equal(t, Tripped, c.Status())
	assert.Equal(t, 100000.0, c.State().OpeningNAV)
}

func TestClearHalt(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	c.Restore(&State{Status: Halted, TrippedStreak: 3, Day: "2025-06-02"})
	require.True(t, c.Halted())

	c.ClearHalt(day2)
	assert.Equal(t, Armed, c.Status())
	assert.Equal(t, 0, c.State().TrippedStreak)
}

func TestValidateOrder(t *testing.T) {
	t.Parallel()

	clean := broker.Order{ClientID: "x", Symbol: "510300", DeltaShares: 1000, Price: 4.0}

	t.Run("clean order", func(t *testing.T) {
		t.Parallel()
		c := newTestController(t)
		c.OnDayStart(day1, 100000)
		assert.Empty(t, c.ValidateOrder(clean))
	})

	t.Run("notional cap counts sells", func(t *testing.T) {
		t.Parallel()
		c := newTestController(t)
		c.OnDayStart(day1, 100000)

		v := c.ValidateOrder(broker.Order{Symbol: "510300", DeltaShares: -20000, Price: 4.0})
		require.Len(t, v, 1)
		assert.Equal(t, "NOTIONAL_CAP", v[0].Code)
	})

	t.Run("tripped gate plus bad fields collects all violations", func(t *testing.T) {
		t.Parallel()
		c := newTestController(t)
		c.OnDayStart(day1, 100000)
		require.Equal(t, Tripped, c.CheckDrawdown(day1, 90000))

		v := c.ValidateOrder(broker.Order{Symbol: "510300"})
		require.Len(t, v, 3)
		assert.Equal(t, "GATE_TRIPPED", v[0].Code)
		assert.Equal(t, "ZERO_SHARES", v[1].Code)
		assert.Equal(t, "NO_PRICE", v[2].Code)
	})
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	c.OnDayStart(day1, 100000)
	require.Equal(t, Tripped, c.CheckDrawdown(day1, 90000))

	data, err := c.State().Encode()
	require.NoError(t, err)

	st, err := DecodeState(data)
	require.NoError(t, err)

	restored := newTestController(t)
	restored.Restore(st)
	assert.Equal(t, Tripped, restored.Status())
	assert.Equal(t, 100000.0, restored.State().OpeningNAV)
	assert.Equal(t, "2025-06-02", restored.State().Day)
	assert.Equal(t, []string{"2025-06-02"}, restored.State().TrippedDates)
}

func TestDecodeStateRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data string
	}{
		{"missing status", `{"opening_nav":1,"tripped_streak":0,"day":"","updated_at":"2025-06-02T14:55:00Z"}`},
		{"unknown status", `{"opening_nav":1,"status":"PAUSED","tripped_streak":0,"day":"","updated_at":"2025-06-02T14:55:00Z"}`},
		{"negative streak", `{"opening_nav":1,"status":"ARMED","tripped_streak":-1,"day":"","updated_at":"2025-06-02T14:55:00Z"}`},
		{"malformed day", `{"opening_nav":1,"status":"ARMED","tripped_streak":0,"day":"June 2","updated_at":"2025-06-02T14:55:00Z"}`},
		{"missing updated_at", `{"opening_nav":1,"status":"ARMED","tripped_streak":0,"day":""}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeState([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}
