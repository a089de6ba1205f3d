// Package scheduler drives the daily trading cycle and the liveness
// heartbeat, and owns the graceful-shutdown path.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tranche/calendar"
)

// CycleFunc runs one trading cycle at the given fire time.
type CycleFunc func(ctx context.Context, now time.Time) error

// FinalizeFunc performs the final commit and cleanup before exit.
type FinalizeFunc func(now time.Time) error

// Scheduler fires the cycle at the configured venue-local execution time on
// trading days. No cross-cycle concurrency: the next cycle is not scheduled
// until the prior one, commit included, returns.
type Scheduler struct {
	cal      *calendar.Calendar
	execTime string
	hb       *Heartbeat
	cycle    CycleFunc
	finalize FinalizeFunc
	log      zerolog.Logger

	// Clock injection for tests; defaults to time.Now.
	Now func() time.Time
}

// New creates a scheduler.
func New(cal *calendar.Calendar, execTime string, hb *Heartbeat, cycle CycleFunc, finalize FinalizeFunc, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cal:      cal,
		execTime: execTime,
		hb:       hb,
		cycle:    cycle,
		finalize: finalize,
		log:      log,
		Now:      time.Now,
	}
}

// MissedWindow reports whether now already passed today's execution time on
// a trading day, in which case the first fire lands on the next trading day.
func (s *Scheduler) MissedWindow(now time.Time) bool {
	next, err := s.cal.NextRun(now, s.execTime)
	if err != nil {
		return false
	}
	return s.cal.IsTradingDay(now) && s.cal.DateKey(next) != s.cal.DateKey(now)
}

// Run blocks until ctx is cancelled. On a termination request it stops the
// heartbeat, invokes the final commit, and returns, so a clean shutdown
// never cuts off a write that this path could have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.hb.Start()
	defer s.hb.Stop()

	now := s.Now()
	if s.MissedWindow(now) {
		s.log.Warn().
			Str("exec_time", s.execTime).
			Msg("startup after today's execution window, scheduling next trading day")
	}

	for {
		now = s.Now()
		next, err := s.cal.NextRun(now, s.execTime)
		if err != nil {
			s.shutdown()
			return err
		}
		s.log.Info().Time("next_run", next).Msg("cycle scheduled")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.shutdown()
			return nil
		case <-timer.C:
		}

		fireAt := s.Now()
		if err := s.cycle(ctx, fireAt); err != nil {
			if errors.Is(err, context.Canceled) {
				s.shutdown()
				return nil
			}
			// Fatal cycle errors already committed best-effort state;
			// the scheduler stays up and tries again next trading day.
			s.log.Error().Err(err).Msg("cycle failed")
		}
	}
}

func (s *Scheduler) shutdown() {
	s.hb.Stop()
	if s.finalize == nil {
		return
	}
	if err := s.finalize(s.Now()); err != nil {
		s.log.Error().Err(err).Msg("final commit on shutdown failed")
	}
}
