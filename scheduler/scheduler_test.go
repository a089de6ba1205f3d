package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tranche/calendar"
)

func TestHeartbeatBeats(t *testing.T) {
	t.Parallel()

	var beats atomic.Int64
	h := NewHeartbeat(5*time.Millisecond, func(time.Time) { beats.Add(1) }, zerolog.Nop())

	h.Start()
	require.True(t, h.Running())
	time.Sleep(30 * time.Millisecond)
	require.True(t, h.Stop())
	assert.False(t, h.Running())

	// The first beat is immediate, the rest tick.
	assert.GreaterOrEqual(t, beats.Load(), int64(3))
}

func TestHeartbeatStartIsIdempotent(t *testing.T) {
	t.Parallel()

	var beats atomic.Int64
	h := NewHeartbeat(2*time.Millisecond, func(time.Time) { beats.Add(1) }, zerolog.Nop())

	// Repeated starts must leave exactly one running task: each start joins
	// the prior task before launching a new one.
	for i := 0; i < 5; i++ {
		h.Start()
	}
	time.Sleep(20 * time.Millisecond)
	require.True(t, h.Stop())
	assert.False(t, h.Running())

	// A single Stop silences everything: no leaked task keeps beating.
	after := beats.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, beats.Load())
}

func TestHeartbeatStopTwice(t *testing.T) {
	t.Parallel()

	h := NewHeartbeat(time.Millisecond, nil, zerolog.Nop())
	h.Start()
	assert.True(t, h.Stop())
	assert.False(t, h.Stop(), "second stop has nothing to stop")
}

func TestSchedulerRunsCycleAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	cal := calendar.New(time.UTC, nil)
	hb := NewHeartbeat(time.Millisecond, nil, zerolog.Nop())

	ran := make(chan time.Time, 1)
	finalized := make(chan struct{})

	s := New(cal, "14:55:00", hb,
		func(ctx context.Context, now time.Time) error {
			select {
			case ran <- now:
			default:
			}
			return nil
		},
		func(now time.Time) error {
			close(finalized)
			return nil
		},
		zerolog.Nop())

	// Pin the clock just before the execution window on a trading day so
	// the first fire is nearly immediate.
	base := time.Date(2025, 6, 2, 14, 54, 59, 950_000_000, time.UTC)
	start := time.Now()
	s.Now = func() time.Time { return base.Add(time.Since(start)) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case at := <-ran:
		assert.Equal(t, "2025-06-02", cal.DateKey(at))
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never fired")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	// Shutdown ran the finalizer and stopped the heartbeat.
	select {
	case <-finalized:
	default:
		t.Fatal("finalizer not invoked")
	}
	assert.False(t, hb.Running())
}

func TestSchedulerMissedWindow(t *testing.T) {
	t.Parallel()

	cal := calendar.New(time.UTC, nil)
	s := New(cal, "14:55:00", NewHeartbeat(time.Minute, nil, zerolog.Nop()), nil, nil, zerolog.Nop())

	// Monday after the window: missed.
	assert.True(t, s.MissedWindow(time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)))
	// Monday before the window: not missed.
	assert.False(t, s.MissedWindow(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)))
	// Saturday: not a trading day, nothing to miss.
	assert.False(t, s.MissedWindow(time.Date(2025, 6, 7, 16, 0, 0, 0, time.UTC)))
}
