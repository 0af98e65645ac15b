package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerRunsAtStartAndOnInterval(t *testing.T) {
	var runs atomic.Int64
	r := &Runner{
		Name:       "test",
		Interval:   20 * time.Millisecond,
		RunAtStart: true,
		Fn: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}
	r.Start(context.Background())
	defer r.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunnerSkipsOverlappingRuns(t *testing.T) {
	var concurrent, peak atomic.Int64
	release := make(chan struct{})
	r := &Runner{
		Name:     "overlap",
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			cur := concurrent.Add(1)
			if cur > peak.Load() {
				peak.Store(cur)
			}
			<-release
			concurrent.Add(-1)
			return nil
		},
	}
	r.Start(context.Background())

	// Let several ticks elapse while the first run is blocked.
	time.Sleep(60 * time.Millisecond)
	close(release)
	r.Stop()

	if peak.Load() != 1 {
		t.Fatalf("runs overlapped: peak concurrency %d", peak.Load())
	}
}

func TestRunnerStopWaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	r := &Runner{
		Name:       "stop",
		Interval:   time.Hour,
		RunAtStart: true,
		Fn: func(ctx context.Context) error {
			close(started)
			time.Sleep(30 * time.Millisecond)
			close(finished)
			return nil
		},
	}
	r.Start(context.Background())
	<-started
	r.Stop()
	select {
	case <-finished:
	default:
		t.Fatalf("Stop returned before the in-flight run finished")
	}
}
