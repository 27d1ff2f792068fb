// Package tick provides the fixed-period driver that gates the state engine.
// Exactly one loop runs per engine; a tick is never re-entered while a prior
// tick is still executing.
package tick

import (
	"context"
	"sync"
	"time"
)

// StepFunc executes one simulation tick.
type StepFunc func()

// Loop invokes the step function at the configured rate, catching up with
// fixed steps when the scheduler falls behind.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *Monitor
	ticker   *time.Ticker
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoop configures a loop that targets the provided ticks per second.
func NewLoop(rateHz int, step StepFunc, monitor *Monitor) *Loop {
	if rateHz <= 0 {
		rateHz = 20
	}
	if step == nil {
		step = func() {}
	}
	interval := time.Second / time.Duration(rateHz)
	if interval <= 0 {
		interval = time.Second / 20
	}
	return &Loop{step: interval, stepFunc: step, monitor: monitor}
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}
	l.ticker = time.NewTicker(l.step)
	l.quit = make(chan struct{})
	l.done = make(chan struct{})
	l.stopOnce = sync.Once{}
	go func() {
		defer close(l.done)
		defer l.ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.quit:
				return
			case now := <-l.ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				for accumulator >= l.step {
					started := time.Now()
					l.stepFunc()
					l.monitor.Observe(time.Since(started))
					accumulator -= l.step
				}
			}
		}
	}()
}

// Stop terminates the loop and waits for the goroutine to exit. It does not
// require the Start context to be cancelled first, and is safe to call more
// than once.
func (l *Loop) Stop() {
	if l == nil || l.done == nil {
		return
	}
	//1.- Close the quit channel so the goroutine unblocks even while waiting
	// for the next ticker fire.
	l.stopOnce.Do(func() { close(l.quit) })
	<-l.done
}

// StepDuration exposes the configured tick interval.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
