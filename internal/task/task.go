// Package task runs background jobs on a fixed interval with an explicit
// lifecycle, replacing ad hoc timers.
package task

import (
	"context"
	"sync"
	"time"

	"inkgate.org/internal/obs"
)

// Runner invokes Fn every Interval until stopped. Ticks are skipped while a
// previous run is still active, so overlapping sweeps cannot duplicate work.
// The running batch finishes before Stop returns.
type Runner struct {
	Name       string
	Interval   time.Duration
	Fn         func(ctx context.Context) error
	RunAtStart bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running sync.Mutex
}

// Start launches the loop. Calling Start on a started runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop cancels the loop and waits for the in-flight run, if any, to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	if r.RunAtStart {
		r.runOnce(ctx)
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if !r.running.TryLock() {
		return
	}
	defer r.running.Unlock()

	start := time.Now()
	err := r.Fn(ctx)
	obs.SweepDuration.WithLabelValues(r.Name).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		obs.LogEvent("error", "sweep failed", map[string]any{
			"sweeper": r.Name,
			"error":   err.Error(),
		})
	}
	obs.SweepRuns.WithLabelValues(r.Name, outcome).Inc()
}
