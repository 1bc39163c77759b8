// Package cyclic runs a step function at a fixed period and reports overruns.
package cyclic

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Step is one cycle of work.
type Step func(ctx context.Context) error

// Loop runs a Step once per Period.
type Loop struct {
	Period time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
	// LockThread pins the loop to one OS thread for its lifetime, so that
	// thread-level scheduling set up by Setup applies to every step.
	LockThread bool
	// Setup runs on the loop's goroutine before the first step.
	Setup func() error

	overruns atomic.Uint64
	cycles   atomic.Uint64
}

// Stats reports the number of cycles run and how many overran the period.
func (l *Loop) Stats() (cycles, overruns uint64) { return l.cycles.Load(), l.overruns.Load() }

// Run calls step every Period until ctx is done or step returns an error.
// A step that takes longer than Period is logged (throttled) and the next
// step starts immediately; missed ticks are not replayed.
func (l *Loop) Run(ctx context.Context, step Step) error {
	clk := l.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if l.LockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if l.Setup != nil {
		if err := l.Setup(); err != nil {
			logger.Warn("cyclic setup failed, continuing", "error", err)
		}
	}

	warn := rate.Sometimes{Interval: time.Second}
	ticker := clk.Ticker(l.Period)
	defer ticker.Stop()
	for {
		start := clk.Now()
		if err := step(ctx); err != nil {
			return err
		}
		l.cycles.Add(1)
		if elapsed := clk.Since(start); elapsed > l.Period {
			n := l.overruns.Add(1)
			warn.Do(func() {
				logger.Warn("cyclic loop overrun", "elapsed", elapsed, "period", l.Period, "overruns", n)
			})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
