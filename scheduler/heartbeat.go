package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Heartbeat is the liveness supervisor's background task. It owns its own
// lifecycle handle; callers get Start and Stop, never a shared flag.
type Heartbeat struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	onBeat   func(time.Time)
	log      zerolog.Logger
}

// NewHeartbeat creates a stopped heartbeat. onBeat (optional) observes
// every beat; the metrics gauge hangs off it.
func NewHeartbeat(interval time.Duration, onBeat func(time.Time), log zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		onBeat:   onBeat,
		log:      log,
	}
}

// Start launches the heartbeat task. It is idempotent: a repeated start
// first cancels and joins any already-running task, so two heartbeats never
// run concurrently.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		h.beat(time.Now())
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				h.beat(t)
			}
		}
	}()
}

// Stop cancels and joins the heartbeat task. Returns true when a running
// task was stopped.
func (h *Heartbeat) Stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked()
}

// Running reports whether a heartbeat task is active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *Heartbeat) stopLocked() bool {
	if h.cancel == nil {
		return false
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
	return true
}

func (h *Heartbeat) beat(t time.Time) {
	h.log.Info().Time("at", t).Msg("heartbeat")
	if h.onBeat != nil {
		h.onBeat(t)
	}
}
