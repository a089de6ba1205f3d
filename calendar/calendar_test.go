package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shanghai(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return loc
}

func TestIsTradingDay(t *testing.T) {
	t.Parallel()

	c := New(time.UTC, []string{"2025-06-03"})

	assert.True(t, c.IsTradingDay(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)))  // Monday
	assert.False(t, c.IsTradingDay(time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC))) // holiday
	assert.False(t, c.IsTradingDay(time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC))) // Saturday
	assert.False(t, c.IsTradingDay(time.Date(2025, 6, 8, 10, 0, 0, 0, time.UTC))) // Sunday
}

func TestDateKeyUsesVenueTimezone(t *testing.T) {
	t.Parallel()

	c := New(shanghai(t), nil)

	// 18:00 UTC Monday is already Tuesday in Shanghai.
	utcEvening := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-03", c.DateKey(utcEvening))
}

func TestNextTradingDaySkipsWeekendAndHolidays(t *testing.T) {
	t.Parallel()

	c := New(time.UTC, []string{"2025-06-09"}) // Monday holiday

	friday := time.Date(2025, 6, 6, 15, 0, 0, 0, time.UTC)
	next := c.NextTradingDay(friday)
	assert.Equal(t, "2025-06-10", c.DateKey(next)) // Tuesday
}

func TestTradingDaysBetween(t *testing.T) {
	t.Parallel()

	c := New(time.UTC, nil)

	fri := time.Date(2025, 6, 6, 15, 0, 0, 0, time.UTC)
	mon := time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC)
	tue := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, c.TradingDaysBetween(fri, mon), "weekend does not count")
	assert.Equal(t, 2, c.TradingDaysBetween(fri, tue))
	assert.Equal(t, 0, c.TradingDaysBetween(mon, mon))
	assert.Equal(t, 0, c.TradingDaysBetween(tue, mon), "reversed range")
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	c := New(time.UTC, nil)

	// Before the window on a trading day: today.
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	next, err := c.NextRun(now, "14:55:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 14, 55, 0, 0, time.UTC), next)

	// Past the window: the next trading day.
	now = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	next, err = c.NextRun(now, "14:55:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 14, 55, 0, 0, time.UTC), next)

	// Friday past the window: Monday.
	now = time.Date(2025, 6, 6, 15, 0, 0, 0, time.UTC)
	next, err = c.NextRun(now, "14:55:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 9, 14, 55, 0, 0, time.UTC), next)

	_, err = c.NextRun(now, "3pm")
	assert.Error(t, err)
}
