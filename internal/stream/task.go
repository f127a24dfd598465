package stream

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// periodicTask runs fn on every tick until cancelled. Ticks that arrive
// while fn is still running are skipped, never queued.
type periodicTask struct {
	ticker *clock.Ticker
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// startPeriodic starts fn every interval on its own goroutine.
func startPeriodic(clk clock.Clock, interval time.Duration, fn func()) *periodicTask {
	t := &periodicTask{
		ticker: clk.Ticker(interval),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	go func() {
		defer close(t.exited)
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				// Cancel may race with the tick.
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return t
}

// Cancel stops the task. Safe to call more than once and from within fn.
func (t *periodicTask) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

// Wait blocks until a run of fn already in progress has returned, or ctx
// is done. Call only after Cancel and never from within fn.
func (t *periodicTask) Wait(ctx context.Context) {
	if t == nil {
		return
	}
	select {
	case <-t.exited:
	case <-ctx.Done():
	}
}
