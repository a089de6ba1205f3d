// Package calendar answers trading-day questions for the execution venue.
//
// The guard and the risk rollover key on the venue's trading-calendar date,
// not the local wall-clock date, so a process running in another timezone
// never double-fires or skips a daily reset.
package calendar

import (
	"time"
)

// Calendar holds the venue timezone and its non-weekend closures.
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool // "2006-01-02" in venue local time
}

// New builds a calendar for the given location. Holidays are venue-local
// dates in "2006-01-02" form.
func New(loc *time.Location, holidays []string) *Calendar {
	h := make(map[string]bool, len(holidays))
	for _, d := range holidays {
		h[d] = true
	}
	return &Calendar{loc: loc, holidays: h}
}

// Location returns the venue timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Date returns the venue-local calendar date for t, truncated to midnight.
func (c *Calendar) Date(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
}

// DateKey returns the venue-local date as "2006-01-02". Used as the
// once-per-day key for guard firing and risk rollover.
func (c *Calendar) DateKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	wd := lt.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[lt.Format("2006-01-02")]
}

// NextTradingDay returns the first trading day strictly after t's date.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	d := c.Date(t).AddDate(0, 0, 1)
	for i := 0; i < 30; i++ {
		if c.IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	// A month with no trading day means a misconfigured holiday list;
	// fall back to the raw next day rather than looping forever.
	return c.Date(t).AddDate(0, 0, 1)
}

// TradingDaysBetween counts trading days after a's date up to and including
// b's date. Returns 0 when b is not after a. A completed cycle advances the
// counter by exactly one of these.
func (c *Calendar) TradingDaysBetween(a, b time.Time) int {
	da, db := c.Date(a), c.Date(b)
	if !db.After(da) {
		return 0
	}
	n := 0
	for d := da.AddDate(0, 0, 1); !d.After(db); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			n++
		}
	}
	return n
}

// NextRun returns the next time the daily cycle should fire: execTime
// ("15:04:05", venue-local) today if still ahead on a trading day,
// otherwise execTime on the next trading day.
func (c *Calendar) NextRun(now time.Time, execTime string) (time.Time, error) {
	et, err := time.Parse("15:04:05", execTime)
	if err != nil {
		return time.Time{}, err
	}
	lt := now.In(c.loc)
	today := time.Date(lt.Year(), lt.Month(), lt.Day(),
		et.Hour(), et.Minute(), et.Second(), 0, c.loc)
	if lt.Before(today) && c.IsTradingDay(lt) {
		return today, nil
	}
	d := c.NextTradingDay(lt)
	return time.Date(d.Year(), d.Month(), d.Day(),
		et.Hour(), et.Minute(), et.Second(), 0, c.loc), nil
}
